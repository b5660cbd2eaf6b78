package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/conversation"
	"github.com/labsai/EDDI-integration-tests/internal/deploy"
	"github.com/labsai/EDDI-integration-tests/internal/fixture"
	"github.com/labsai/EDDI-integration-tests/internal/parser"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
	"github.com/labsai/EDDI-integration-tests/internal/store"
)

// Env is everything a run needs besides the scenario.
type Env struct {
	// Client configures the connection to the service. Its Recorder, if
	// any, sees every exchange in addition to the harness.
	Client client.Config

	// Store receives the run log. When nil the run is logged to a fresh
	// in-memory database that is discarded afterwards.
	Store *store.Store

	// Fixtures overrides the scenario's fixture directory.
	Fixtures *fixture.Loader

	// RunIDs defaults to UUIDv7Generator.
	RunIDs RunIDGenerator

	// UserIDs generates conversation user ids when a step names none.
	UserIDs func() string

	DeployOptions       []deploy.Option
	ConversationOptions []conversation.Option

	Logger *slog.Logger
	Now    func() time.Time
}

// boundResource is a resource known to the run by alias.
type boundResource struct {
	coll   resource.Collection
	driver *resource.Driver
}

// runner holds the state of one scenario execution.
type runner struct {
	scenario *Scenario
	env      Env
	client   *client.Client
	fixtures *fixture.Loader
	poller   *deploy.Poller
	convs    *conversation.Driver
	parser   *parser.Runner
	trace    *traceRecorder
	names    *aliases
	logger   *slog.Logger

	mu        sync.Mutex
	resources map[string]*boundResource
	sessions  map[string]*conversation.Session
}

// Run executes a scenario against the service described by env.
//
// Execution flow:
// 1. Begin a run in the run log
// 2. Compose or import every bot concurrently and deploy it
// 3. Execute steps in order, checking expect clauses; stop at the first failure
// 4. Build the alias-normalised trace and evaluate assertions
// 5. Finish the run with its verdict
//
// Conformance failures are reported in the Result. The error is reserved
// for failures of the harness itself.
func Run(ctx context.Context, scenario *Scenario, env Env) (*Result, error) {
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := env.Now
	if now == nil {
		now = time.Now
	}
	gen := env.RunIDs
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	if env.UserIDs == nil {
		env.UserIDs = newUserID
	}

	st := env.Store
	if st == nil {
		var err error
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory run log: %w", err)
		}
		defer st.Close()
	}

	runID := gen.Generate()
	trace := newTraceRecorder()
	runLog := st.Recorder(runID, logger)
	recorders := client.MultiRecorder{trace, runLog}
	if env.Client.Recorder != nil {
		recorders = append(recorders, env.Client.Recorder)
	}
	cfg := env.Client
	cfg.Recorder = recorders
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	c, err := client.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	fixtures := env.Fixtures
	if fixtures == nil {
		fixtures = fixture.NewDirLoader(scenario.FixtureDir())
	}

	if err := st.BeginRun(ctx, store.Run{
		ID:        runID,
		Scenario:  scenario.Name,
		BaseURL:   c.BaseURL(),
		StartedAt: now(),
	}); err != nil {
		return nil, err
	}

	r := &runner{
		scenario:  scenario,
		env:       env,
		client:    c,
		fixtures:  fixtures,
		poller:    deploy.NewPoller(c, append([]deploy.Option{deploy.WithLogger(logger)}, env.DeployOptions...)...),
		convs:     conversation.NewDriver(c, env.ConversationOptions...),
		parser:    parser.NewRunner(c),
		trace:     trace,
		names:     newAliases(),
		logger:    logger,
		resources: make(map[string]*boundResource),
		sessions:  make(map[string]*conversation.Session),
	}

	result := NewResult(runID)
	logger.Info("scenario started", "scenario", scenario.Name, "run", runID, "base_url", c.BaseURL())

	completed := false
	if err := r.setup(ctx); err != nil {
		result.AddError(fmt.Sprintf("setup: %v", err))
	} else {
		completed = r.executeSteps(ctx, result)
	}

	botOrder := make([]string, len(scenario.Bots))
	for i, b := range scenario.Bots {
		botOrder[i] = b.Name
	}
	result.Trace = trace.build(r.names, botOrder)

	if completed {
		actx := &AssertionContext{Store: st, Ctx: ctx, RunID: runID}
		for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
			result.AddError(msg)
		}
	}
	if err := runLog.Err(); err != nil {
		result.AddError(fmt.Sprintf("run log: %v", err))
	}

	if err := st.FinishRun(context.WithoutCancel(ctx), runID, result.Pass, result.Errors, now()); err != nil {
		return result, err
	}
	logger.Info("scenario finished", "scenario", scenario.Name, "run", runID, "pass", result.Pass, "errors", len(result.Errors))
	return result, nil
}

// bind registers a resource under alias and maps its id to that alias in
// the trace.
func (r *runner) bind(alias string, coll resource.Collection, id resource.ID) *boundResource {
	d := resource.NewDriver(r.client)
	d.Use(id)
	b := &boundResource{coll: coll, driver: d}
	r.mu.Lock()
	r.resources[alias] = b
	r.mu.Unlock()
	r.names.add(id.ID, alias)
	return b
}

func (r *runner) resource(alias string) (*boundResource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.resources[alias]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", alias)
	}
	return b, nil
}

func (r *runner) bot(alias string) (resource.ID, error) {
	b, err := r.resource(alias)
	if err != nil {
		return resource.ID{}, err
	}
	if b.coll.Name != resource.Bots.Name {
		return resource.ID{}, fmt.Errorf("resource %q is a %s, not a bot", alias, b.coll.Name)
	}
	return b.driver.Current(), nil
}

func (r *runner) session(alias string) (*conversation.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[alias]
	if !ok {
		return nil, fmt.Errorf("unknown conversation %q", alias)
	}
	return s, nil
}

// vars returns fixture substitutions for every known resource:
// {{id:alias}}, {{version:alias}} and {{uri:alias}}. The resource under
// test, if any, also fills the plain id and version placeholders.
func (r *runner) vars(target *boundResource) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	vars := make(map[string]string, 3*len(r.resources)+2)
	for alias, b := range r.resources {
		id := b.driver.Current()
		vars["{{id:"+alias+"}}"] = id.ID
		vars["{{version:"+alias+"}}"] = fmt.Sprint(id.Version)
		vars["{{uri:"+alias+"}}"] = b.coll.Reference(id)
	}
	if target != nil {
		id := target.driver.Current()
		vars[fixture.PlaceholderID] = id.ID
		vars[fixture.PlaceholderVersion] = fmt.Sprint(id.Version)
	}
	return vars
}
