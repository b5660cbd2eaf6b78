package conversation

import "strings"

// Causal stages of a turn, in the order the engine runs them.
const (
	stageContext = iota
	stageInput
	stageExpressions
	stageBehavior
	stageProperties
	stageActions
	stageOutput
	stageUnranked = -1
)

// Stage returns the causal stage of an entry key, or -1 for keys that
// carry no ordering guarantee. Entries lifted from the input context
// (quickReplies:context, properties:extracted) are written right after
// the input, before parsing, so they are not ranked.
func Stage(key string) int {
	if strings.HasSuffix(key, ":context") || key == "properties:extracted" {
		return stageUnranked
	}
	prefix, _, _ := strings.Cut(key, ":")
	switch prefix {
	case "context":
		return stageContext
	case "input":
		return stageInput
	case "expressions", "intents":
		return stageExpressions
	case "behavior_rules":
		return stageBehavior
	case "properties":
		return stageProperties
	case "actions":
		return stageActions
	case "output", "quickReplies":
		return stageOutput
	default:
		return stageUnranked
	}
}

// VerifyCausalOrder checks that no entry of step belongs to an earlier
// stage than an entry before it: context before input, input before
// parsed expressions, expressions before behavior rules, rules before
// properties, properties before actions and actions before output.
func VerifyCausalOrder(step Step) error {
	highest := stageUnranked
	previous := ""
	for i, e := range step.Entries {
		stage := Stage(e.Key)
		if stage == stageUnranked {
			continue
		}
		if stage < highest {
			return &OrderError{Index: i, Key: e.Key, Previous: previous}
		}
		highest = stage
		previous = e.Key
	}
	return nil
}

// Subsequence reports whether keys appear in step in the given relative
// order. Other keys may sit between them.
func Subsequence(step Step, keys []string) bool {
	next := 0
	for _, e := range step.Entries {
		if next < len(keys) && e.Key == keys[next] {
			next++
		}
	}
	return next == len(keys)
}
