package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// Scenario is one conformance test against a running service.
// Bots are prepared first, then steps run in order, then assertions are
// evaluated against the recorded trace.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are stored
	// under this name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fixtures is the fixture directory, relative to the scenario file.
	// Defaults to the scenario's own directory.
	Fixtures string `yaml:"fixtures,omitempty"`

	// Bots are composed or imported and deployed before the steps run.
	Bots []BotSpec `yaml:"bots,omitempty"`

	// Steps run sequentially. Exactly one action per step.
	Steps []Step `yaml:"steps"`

	// Assertions validate the recorded trace and run log.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// baseDir is the directory of the scenario file.
	baseDir string
}

// FixtureDir returns the resolved fixture directory.
func (s *Scenario) FixtureDir() string {
	if filepath.IsAbs(s.Fixtures) {
		return s.Fixtures
	}
	return filepath.Join(s.baseDir, s.Fixtures)
}

// BotSpec describes a bot prepared during setup. A bot is either composed
// from a dictionary, a behavior set and an output set, or imported from a
// backup archive.
type BotSpec struct {
	Name       string `yaml:"name"`
	Dictionary string `yaml:"dictionary,omitempty"`
	Behavior   string `yaml:"behavior,omitempty"`
	Output     string `yaml:"output,omitempty"`
	Import     string `yaml:"import,omitempty"`

	// Deploy defaults to true.
	Deploy *bool `yaml:"deploy,omitempty"`
}

// Deployed reports whether setup deploys the bot.
func (b BotSpec) Deployed() bool {
	return b.Deploy == nil || *b.Deploy
}

// Step is one action against the service plus optional expectations on
// its outcome.
type Step struct {
	// Name labels the step in the trace. Defaults to "<n>:<action>".
	Name string `yaml:"name,omitempty"`

	Create       *ResourceStep     `yaml:"create,omitempty"`
	Read         *ResourceStep     `yaml:"read,omitempty"`
	Update       *ResourceStep     `yaml:"update,omitempty"`
	Patch        *ResourceStep     `yaml:"patch,omitempty"`
	Delete       *ResourceStep     `yaml:"delete,omitempty"`
	Deploy       *DeployStep       `yaml:"deploy,omitempty"`
	Conversation *ConversationStep `yaml:"conversation,omitempty"`
	Say          *SayStep          `yaml:"say,omitempty"`
	Log          *LogStep          `yaml:"log,omitempty"`
	Parse        *ParseStep        `yaml:"parse,omitempty"`
	Trigger      *TriggerStep      `yaml:"trigger,omitempty"`
	Managed      *ManagedStep      `yaml:"managed,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Action names.
const (
	ActionCreate       = "create"
	ActionRead         = "read"
	ActionUpdate       = "update"
	ActionPatch        = "patch"
	ActionDelete       = "delete"
	ActionDeploy       = "deploy"
	ActionConversation = "conversation"
	ActionSay          = "say"
	ActionLog          = "log"
	ActionParse        = "parse"
	ActionTrigger      = "trigger"
	ActionManaged      = "managed"
)

// Actions returns the names of the actions set on the step.
func (s *Step) Actions() []string {
	var out []string
	set := []struct {
		name string
		ok   bool
	}{
		{ActionCreate, s.Create != nil},
		{ActionRead, s.Read != nil},
		{ActionUpdate, s.Update != nil},
		{ActionPatch, s.Patch != nil},
		{ActionDelete, s.Delete != nil},
		{ActionDeploy, s.Deploy != nil},
		{ActionConversation, s.Conversation != nil},
		{ActionSay, s.Say != nil},
		{ActionLog, s.Log != nil},
		{ActionParse, s.Parse != nil},
		{ActionTrigger, s.Trigger != nil},
		{ActionManaged, s.Managed != nil},
	}
	for _, a := range set {
		if a.ok {
			out = append(out, a.name)
		}
	}
	return out
}

// Action returns the single action of a validated step.
func (s *Step) Action() string {
	if actions := s.Actions(); len(actions) == 1 {
		return actions[0]
	}
	return ""
}

// ResourceStep targets a versioned resource. Collection names the store;
// Resource names the alias, defaulting to the collection name.
type ResourceStep struct {
	Collection string `yaml:"collection,omitempty"`
	Resource   string `yaml:"resource,omitempty"`
	As         string `yaml:"as,omitempty"`
	Fixture    string `yaml:"fixture,omitempty"`
	Body       any    `yaml:"body,omitempty"`
}

// Alias returns the name the resource is registered under.
func (r *ResourceStep) Alias() string {
	switch {
	case r.As != "":
		return r.As
	case r.Resource != "":
		return r.Resource
	default:
		return r.Collection
	}
}

// DeployStep deploys a bot created by earlier steps.
type DeployStep struct {
	Bot        string `yaml:"bot"`
	AutoDeploy *bool  `yaml:"auto_deploy,omitempty"`
}

// ConversationStep opens a conversation with a deployed bot.
type ConversationStep struct {
	Bot  string `yaml:"bot"`
	As   string `yaml:"as"`
	User string `yaml:"user,omitempty"`
}

// ContextValue is one typed context entry sent with input.
type ContextValue struct {
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

// SayStep sends input to an open conversation.
type SayStep struct {
	Conversation    string                  `yaml:"conversation"`
	Input           string                  `yaml:"input"`
	Context         map[string]ContextValue `yaml:"context,omitempty"`
	Detailed        bool                    `yaml:"detailed,omitempty"`
	CurrentStepOnly bool                    `yaml:"current_step_only,omitempty"`
}

// LogStep reads a conversation, waiting until it shows MinSteps steps.
type LogStep struct {
	Conversation string `yaml:"conversation"`
	Detailed     bool   `yaml:"detailed,omitempty"`
	MinSteps     int    `yaml:"min_steps,omitempty"`
}

// ParseStep runs a stored parser configuration on input.
type ParseStep struct {
	Collection string `yaml:"collection,omitempty"`
	Resource   string `yaml:"resource,omitempty"`
	Input      string `yaml:"input"`
}

// Alias returns the parser alias, defaulting to the collection name.
func (p *ParseStep) Alias() string {
	if p.Resource != "" {
		return p.Resource
	}
	if p.Collection != "" {
		return p.Collection
	}
	return resource.Parsers.Name
}

// TriggerStep routes an intent to a bot for managed conversations.
type TriggerStep struct {
	Intent string `yaml:"intent"`
	Bot    string `yaml:"bot"`
}

// ManagedStep talks to the managed conversation of a user, or ends it.
type ManagedStep struct {
	Intent          string `yaml:"intent"`
	User            string `yaml:"user"`
	Input           string `yaml:"input,omitempty"`
	CurrentStepOnly bool   `yaml:"current_step_only,omitempty"`
	End             bool   `yaml:"end,omitempty"`
}

// Expect lists checks on the outcome of a step. Paths are dotted with
// optional [index] suffixes; a name applied to a list collects that
// field from every element.
type Expect struct {
	Status   int            `yaml:"status,omitempty"`
	Version  int            `yaml:"version,omitempty"`
	Text     *string        `yaml:"text,omitempty"`
	Body     map[string]any `yaml:"body,omitempty"`
	HasItem  map[string]any `yaml:"has_item,omitempty"`
	Contains map[string]any `yaml:"contains,omitempty"`
	Size     map[string]int `yaml:"size,omitempty"`
	Null     []string       `yaml:"null,omitempty"`
	Order    *OrderExpect   `yaml:"order,omitempty"`
	Ended    *bool          `yaml:"ended,omitempty"`
}

// OrderExpect checks the entry keys of one conversation step. Step -1
// selects the last step.
type OrderExpect struct {
	Step int      `yaml:"step"`
	Keys []string `yaml:"keys"`
}

// Assertion validates the trace or the run log after all steps ran.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Method and Path select trace events. Path is matched as a prefix of
	// the alias-normalised path without query.
	Method string `yaml:"method,omitempty"`
	Path   string `yaml:"path,omitempty"`

	// Status narrows trace_contains to events with that status.
	Status int `yaml:"status,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Paths lists path prefixes in their expected order (trace_order).
	Paths []string `yaml:"paths,omitempty"`

	// Table, Where and Expect query the run log (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// LoadScenario reads, schema-checks and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.baseDir = filepath.Dir(path)
	return s, nil
}

// ParseScenario parses scenario YAML. Fixture paths resolve against the
// working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks the rules the schema cannot express: one action
// per step, known collections and assertion arguments.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	for i, bot := range s.Bots {
		if !aliasPattern.MatchString(bot.Name) {
			return fmt.Errorf("bots[%d]: invalid name %q", i, bot.Name)
		}
		if seen[bot.Name] {
			return fmt.Errorf("bots[%d]: duplicate name %q", i, bot.Name)
		}
		seen[bot.Name] = true

		composed := bot.Dictionary != "" || bot.Behavior != "" || bot.Output != ""
		switch {
		case bot.Import != "" && composed:
			return fmt.Errorf("bots[%d]: import and composition are mutually exclusive", i)
		case bot.Import == "" && (bot.Dictionary == "" || bot.Behavior == "" || bot.Output == ""):
			return fmt.Errorf("bots[%d]: dictionary, behavior and output are required unless import is set", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	actions := step.Actions()
	if len(actions) != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %v", i, actions)
	}

	for _, r := range []*ResourceStep{step.Create, step.Read, step.Update, step.Patch, step.Delete} {
		if r == nil {
			continue
		}
		if r.Collection == "" && step.Create != nil {
			return fmt.Errorf("steps[%d]: collection is required for create", i)
		}
		if r.Collection == "" && r.Resource == "" {
			return fmt.Errorf("steps[%d]: collection or resource is required", i)
		}
		if r.Collection != "" {
			if _, ok := resource.Lookup(r.Collection); !ok {
				return fmt.Errorf("steps[%d]: unknown collection %q", i, r.Collection)
			}
		}
		if alias := r.Alias(); !aliasPattern.MatchString(alias) {
			return fmt.Errorf("steps[%d]: invalid alias %q", i, alias)
		}
		if r.Fixture != "" && r.Body != nil {
			return fmt.Errorf("steps[%d]: fixture and body are mutually exclusive", i)
		}
	}
	for _, r := range []*ResourceStep{step.Create, step.Update, step.Patch} {
		if r != nil && r.Fixture == "" && r.Body == nil {
			return fmt.Errorf("steps[%d]: fixture or body is required", i)
		}
	}

	switch {
	case step.Deploy != nil && step.Deploy.Bot == "":
		return fmt.Errorf("steps[%d]: deploy needs a bot", i)
	case step.Conversation != nil && (step.Conversation.Bot == "" || !aliasPattern.MatchString(step.Conversation.As)):
		return fmt.Errorf("steps[%d]: conversation needs a bot and a valid alias in as", i)
	case step.Say != nil && step.Say.Conversation == "":
		return fmt.Errorf("steps[%d]: say needs a conversation", i)
	case step.Log != nil && step.Log.Conversation == "":
		return fmt.Errorf("steps[%d]: log needs a conversation", i)
	case step.Log != nil && step.Log.MinSteps < 0:
		return fmt.Errorf("steps[%d]: min_steps must be non-negative", i)
	case step.Trigger != nil && (step.Trigger.Intent == "" || step.Trigger.Bot == ""):
		return fmt.Errorf("steps[%d]: trigger needs an intent and a bot", i)
	case step.Managed != nil && (step.Managed.Intent == "" || step.Managed.User == ""):
		return fmt.Errorf("steps[%d]: managed needs an intent and a user", i)
	}

	if step.Expect != nil && step.Expect.Status != 0 && (step.Expect.Status < 100 || step.Expect.Status > 599) {
		return fmt.Errorf("steps[%d].expect: status %d is not an HTTP status", i, step.Expect.Status)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Path == "" && a.Method == "" {
			return fmt.Errorf("assertions[%d]: method or path is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Paths) == 0 {
			return fmt.Errorf("assertions[%d]: paths list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Path == "" && a.Method == "" {
			return fmt.Errorf("assertions[%d]: method or path is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
