package conversation

import "fmt"

// ContextType tags the value of a Context entry.
type ContextType string

const (
	ContextString      ContextType = "string"
	ContextExpressions ContextType = "expressions"
	ContextObject      ContextType = "object"
)

// Context is one out-of-band value passed alongside user input. String
// and expressions contexts carry a string, object contexts any JSON value.
type Context struct {
	Type  ContextType `json:"type"`
	Value any         `json:"value"`
}

// StringContext returns a string context.
func StringContext(s string) Context {
	return Context{Type: ContextString, Value: s}
}

// ExpressionsContext returns an expressions context such as
// "property(someMeaning)".
func ExpressionsContext(expr string) Context {
	return Context{Type: ContextExpressions, Value: expr}
}

// ObjectContext returns an object context.
func ObjectContext(v any) Context {
	return Context{Type: ContextObject, Value: v}
}

// Validate checks that the value matches the type tag.
func (c Context) Validate() error {
	switch c.Type {
	case ContextString, ContextExpressions:
		if _, ok := c.Value.(string); !ok {
			return fmt.Errorf("context of type %s needs a string value, got %T", c.Type, c.Value)
		}
	case ContextObject:
		if c.Value == nil {
			return fmt.Errorf("context of type object needs a value")
		}
	default:
		return fmt.Errorf("unknown context type %q", c.Type)
	}
	return nil
}

// InputData is user input together with named contexts.
type InputData struct {
	Input   string             `json:"input"`
	Context map[string]Context `json:"context"`
}

// wire returns in with a non-nil context, so the body always carries
// "context": {}.
func (in InputData) wire() InputData {
	if in.Context == nil {
		in.Context = map[string]Context{}
	}
	return in
}

// Validate checks every context entry.
func (in InputData) Validate() error {
	for key, c := range in.Context {
		if key == "" {
			return fmt.Errorf("context key must not be empty")
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("context %q: %w", key, err)
		}
	}
	return nil
}
