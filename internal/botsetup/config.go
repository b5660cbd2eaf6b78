package botsetup

// Extension is one step of a package pipeline, identified by its type URI.
// Nested extensions (parser dictionaries, corrections) are grouped by role.
type Extension struct {
	Type       string                 `json:"type"`
	Extensions map[string][]Extension `json:"extensions,omitempty"`
	Config     map[string]any         `json:"config,omitempty"`
}

// PackageConfiguration is the ordered pipeline a package runs per turn.
type PackageConfiguration struct {
	PackageExtensions []Extension `json:"packageExtensions"`
}

// BotConfiguration lists the package URIs a bot is made of.
type BotConfiguration struct {
	Packages []string `json:"packages"`
}

const (
	TypeNormalizer = "eddi://ai.labs.normalizer"
	TypeParser     = "eddi://ai.labs.parser"
	TypeBehavior   = "eddi://ai.labs.behavior"
	TypeOutput     = "eddi://ai.labs.output"
)

// AllowedChars is the character whitelist of the normalizer.
const AllowedChars = "1234567890abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ!?:;.,"

func extension(typ string) Extension {
	return Extension{Type: typ}
}

// NormalizerExtension strips disallowed characters and converts umlauts.
func NormalizerExtension() Extension {
	ext := extension(TypeNormalizer)
	ext.Config = map[string]any{
		"allowedChars":   AllowedChars,
		"convertUmlaute": "true",
	}
	return ext
}

// ParserExtension parses input with the built-in dictionaries plus the
// regular dictionary at dictionaryURI, correcting with stemming,
// levenshtein distance 2 and merged terms.
func ParserExtension(dictionaryURI string) Extension {
	regular := extension("eddi://ai.labs.parser.dictionaries.regular")
	regular.Config = map[string]any{"uri": dictionaryURI}

	stemming := extension("eddi://ai.labs.parser.corrections.stemming")
	stemming.Config = map[string]any{"language": "english", "lookupIfKnown": "false"}
	levenshtein := extension("eddi://ai.labs.parser.corrections.levenshtein")
	levenshtein.Config = map[string]any{"distance": "2"}

	ext := extension(TypeParser)
	ext.Extensions = map[string][]Extension{
		"dictionaries": {
			extension("eddi://ai.labs.parser.dictionaries.integer"),
			extension("eddi://ai.labs.parser.dictionaries.decimal"),
			extension("eddi://ai.labs.parser.dictionaries.punctuation"),
			extension("eddi://ai.labs.parser.dictionaries.email"),
			extension("eddi://ai.labs.parser.dictionaries.time"),
			extension("eddi://ai.labs.parser.dictionaries.ordinalNumber"),
			regular,
		},
		"corrections": {
			stemming,
			levenshtein,
			extension("eddi://ai.labs.parser.corrections.mergedTerms"),
		},
	}
	return ext
}

// BehaviorExtension evaluates the behavior set at uri.
func BehaviorExtension(uri string) Extension {
	ext := extension(TypeBehavior)
	ext.Config = map[string]any{"uri": uri}
	return ext
}

// OutputExtension renders the output set at uri.
func OutputExtension(uri string) Extension {
	ext := extension(TypeOutput)
	ext.Config = map[string]any{"uri": uri}
	return ext
}

// NewPackage wires normalizer, parser, behavior and output into one
// package, in that order.
func NewPackage(dictionaryURI, behaviorURI, outputURI string) PackageConfiguration {
	return PackageConfiguration{PackageExtensions: []Extension{
		NormalizerExtension(),
		ParserExtension(dictionaryURI),
		BehaviorExtension(behaviorURI),
		OutputExtension(outputURI),
	}}
}
