package resource

import "strings"

// Collection addresses one versioned store of the service: the REST path
// used for requests and the resource URI prefix that Location headers
// returned by that store start with.
type Collection struct {
	Name string
	Path string
	URI  string
}

// ItemPath returns the request path for one version of a resource.
func (c Collection) ItemPath(id ID) string {
	return c.Path + id.String()
}

// Reference returns the resource URI of id, as stored in package and bot
// configurations.
func (c Collection) Reference(id ID) string {
	return c.URI + id.String()
}

var (
	Dictionaries = Collection{
		Name: "dictionary",
		Path: "/regulardictionarystore/regulardictionaries/",
		URI:  "eddi://ai.labs.regulardictionary/regulardictionarystore/regulardictionaries/",
	}
	BehaviorSets = Collection{
		Name: "behavior",
		Path: "/behaviorstore/behaviorsets/",
		URI:  "eddi://ai.labs.behavior/behaviorstore/behaviorsets/",
	}
	OutputSets = Collection{
		Name: "output",
		Path: "/outputstore/outputsets/",
		URI:  "eddi://ai.labs.output/outputstore/outputsets/",
	}
	Packages = Collection{
		Name: "package",
		Path: "/packagestore/packages/",
		URI:  "eddi://ai.labs.package/packagestore/packages/",
	}
	Bots = Collection{
		Name: "bot",
		Path: "/botstore/bots/",
		URI:  "eddi://ai.labs.bot/botstore/bots/",
	}
	Parsers = Collection{
		Name: "parser",
		Path: "/parserstore/parsers/",
		URI:  "eddi://ai.labs.parser/parserstore/parsers/",
	}
)

// Catalog lists the collections the service exposes, keyed by name.
var Catalog = map[string]Collection{
	Dictionaries.Name: Dictionaries,
	BehaviorSets.Name: BehaviorSets,
	OutputSets.Name:   OutputSets,
	Packages.Name:     Packages,
	Bots.Name:         Bots,
	Parsers.Name:      Parsers,
}

// Lookup returns the catalog collection with the given name.
func Lookup(name string) (Collection, bool) {
	c, ok := Catalog[strings.ToLower(name)]
	return c, ok
}
