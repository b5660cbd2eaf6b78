package harness

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/conversation"
	"github.com/labsai/EDDI-integration-tests/internal/deploy"
	"github.com/labsai/EDDI-integration-tests/internal/fixture"
	"github.com/labsai/EDDI-integration-tests/internal/store"
	"github.com/labsai/EDDI-integration-tests/internal/testutil"
)

// The fake hands out ids in creation order. A composed bot takes the
// first five: dictionary, behavior set, output set, package, bot.
const composedBotID = "000000000000000000000005"

// newTestEnv returns an Env pointed at fake with deterministic run and
// user ids and fast polling.
func newTestEnv(fake *testutil.FakeEDDI, runID string) Env {
	return Env{
		Client:   client.Config{BaseURI: fake.URL(), Port: -1},
		Fixtures: fixture.NewDirLoader(filepath.Join("testdata", "scenarios", "fixtures")),
		RunIDs:   testutil.NewFixedRunIDGenerator(runID),
		UserIDs:  func() string { return "user-1" },
		DeployOptions: []deploy.Option{
			deploy.WithInterval(time.Millisecond),
			deploy.WithTimeout(5 * time.Second),
		},
		ConversationOptions: []conversation.Option{
			conversation.WithSettle(time.Millisecond, 5*time.Second),
		},
	}
}

func parseTestScenario(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func stepEvents(result *Result, step string) []TraceEvent {
	var out []TraceEvent
	for _, e := range result.Trace {
		if e.Step == step {
			out = append(out, e)
		}
	}
	return out
}

type countingRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *countingRecorder) Record(context.Context, client.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func TestRun_ConversationFlow(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	scenario, err := LoadScenario("testdata/scenarios/conversation_flow.yaml")
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	rec := &countingRecorder{}
	env := newTestEnv(fake, "run-conversation-flow")
	env.Fixtures = nil
	env.Store = st
	env.Client.Recorder = rec

	result, err := Run(context.Background(), scenario, env)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 19)
	assert.Equal(t, rec.count, len(result.Trace))
	for i, e := range result.Trace {
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.Len(t, stepEvents(result, "setup:main"), 8)

	ended := stepEvents(result, "4:say")
	require.Len(t, ended, 1)
	assert.Equal(t, 410, ended[0].Status)
	assert.Equal(t, "ENDED", fake.ConversationState("000000000000000000000006"))

	run, err := st.ReadRun(context.Background(), "run-conversation-flow")
	require.NoError(t, err)
	assert.Equal(t, "conversation_flow", run.Scenario)
	require.NotNil(t, run.Pass)
	assert.True(t, *run.Pass)
	require.NotNil(t, run.FinishedAt)

	exchanges, err := st.ReadExchanges(context.Background(), "run-conversation-flow")
	require.NoError(t, err)
	assert.Len(t, exchanges, 19)
}

func TestRun_ParserAndManagedConversations(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	scenario := parseTestScenario(t, `
name: parser_and_managed
description: parse text with a stored parser and talk through a bot trigger
bots:
  - {name: main, dictionary: bot/dictionary.json, behavior: bot/behavior.json, output: bot/output.json}
steps:
  - create: {collection: dictionary, as: dict, fixture: bot/dictionary.json}
  - create: {collection: parser, fixture: parser/parser.json}
  - parse: {input: Hello}
    expect:
      status: 200
      body: {"[0].expressions": "greeting(hello)"}
  - parse: {input: whatever}
    expect:
      has_item: {"expressions": "unknown(whatever)"}
  - trigger: {intent: support, bot: main}
    expect: {status: 200}
  - managed: {intent: support, user: alice, input: hello}
    expect:
      size: {conversationSteps: 2}
      has_item: {"conversationSteps[-1].conversationStep.key": "output:text:greet"}
  - managed: {intent: support, user: alice, end: true}
  - managed: {intent: support, user: alice, input: hello, current_step_only: true}
    expect:
      size: {conversationSteps: 1}
      body: {conversationState: READY}
assertions:
  - {type: trace_contains, method: PUT, path: /bottriggerstore/bottriggers/support, status: 200}
  - {type: trace_count, path: "/parser/{parser}", count: 2}
  - {type: trace_count, method: POST, path: /managedbots/support/alice, count: 3}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-parser"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	parses := stepEvents(result, "3:parse")
	require.Len(t, parses, 1)
	assert.Equal(t, "/parser/{parser}?version=1", parses[0].Path)

	body, ok := fake.Document("/parserstore/parsers/", "000000000000000000000007", 1)
	require.True(t, ok)
	assert.Contains(t, string(body), "eddi://ai.labs.regulardictionary/regulardictionarystore/regulardictionaries/000000000000000000000006?version=1")
}

func TestRun_ImportedBot(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	scenario := parseTestScenario(t, `
name: imported
description: import a bot backup and talk to it
bots:
  - {name: weather, import: bot/weather_bot_v1.zip}
steps:
  - conversation: {bot: weather, as: c, user: alice}
  - say: {conversation: c, input: show options, current_step_only: true}
    expect:
      size: {conversationSteps: 1}
      has_item: {"conversationSteps[0].conversationStep.key": "quickReplies:giving_two_options"}
  - log: {conversation: c}
    expect:
      size: {conversationSteps: 2}
      body: {userId: alice}
assertions:
  - {type: trace_contains, method: POST, path: /backup/import, status: 200}
  - {type: trace_order, paths: [/backup/import, "/administration/unrestricted/deploy/{weather}", "/bots/unrestricted/{weather}"]}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-import"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, fake.Imports())

	conv := stepEvents(result, "1:conversation")
	require.Len(t, conv, 1)
	assert.Equal(t, "/bots/unrestricted/{weather}/?userId=alice", conv[0].Path)
}

func TestRun_DeployStepWithoutAutoDeploy(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	scenario := parseTestScenario(t, `
name: manual_deploy
description: deploy a bot from a step instead of setup
bots:
  - {name: main, dictionary: bot/dictionary.json, behavior: bot/behavior.json, output: bot/output.json, deploy: false}
steps:
  - deploy: {bot: main, auto_deploy: false}
  - conversation: {bot: main, as: c}
    expect: {status: 201}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-deploy"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	triggers, auto := fake.DeployTriggers(composedBotID, 1)
	assert.Equal(t, 1, triggers)
	assert.Equal(t, []bool{false}, auto)
	assert.Empty(t, stepEvents(result, "setup:main")[5:], "setup must not deploy")

	deploys := stepEvents(result, "1:deploy")
	require.NotEmpty(t, deploys)
	assert.Equal(t, "/administration/unrestricted/deploy/{main}?version=1&autoDeploy=false", deploys[0].Path)
}

func TestRun_AwaitsWelcomeAndSendsContext(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	fake.SetWelcomeLag(2)
	scenario := parseTestScenario(t, `
name: context
description: wait for the welcome step, then send input with context
bots:
  - {name: main, dictionary: bot/dictionary.json, behavior: bot/behavior.json, output: bot/output.json}
steps:
  - conversation: {bot: main, as: c}
  - log: {conversation: c, min_steps: 1}
    expect:
      size: {conversationSteps: 1}
      has_item: {"conversationOutputs[0].actions": welcome}
  - say:
      conversation: c
      input: hello
      detailed: true
      current_step_only: true
      context:
        userInfo: {type: object, value: {username: John}}
    expect:
      has_item: {"conversationSteps[0].conversationStep.key": "context:userInfo"}
      body: {"conversationSteps[0].conversationStep[0].value.value.username": John}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-context"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, stepEvents(result, "2:log"), 3)
}

func TestRun_InlineBodiesAndPatch(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	scenario := parseTestScenario(t, `
name: inline
description: create and patch a dictionary from inline bodies
steps:
  - create:
      collection: dictionary
      as: dict
      body: {language: en, words: [{word: hi, expressions: "greeting(hi)"}]}
    expect: {version: 1}
  - patch:
      resource: dict
      body: {language: de}
    expect:
      version: 2
      body: {language: de, "words[0].word": hi}
  - read: {collection: dictionary, resource: dict}
    expect:
      status: 200
      null: [phrases]
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-inline"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	patch := stepEvents(result, "2:patch")
	require.Len(t, patch, 2)
	assert.Equal(t, "PATCH", patch[0].Method)
	assert.Equal(t, "/regulardictionarystore/regulardictionaries/{dict}?version=1", patch[0].Path)
	assert.Equal(t, "/regulardictionarystore/regulardictionaries/{dict}?version=2", patch[1].Path)
}

func TestRun_ExpectationMismatchFailsRun(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	scenario := parseTestScenario(t, `
name: mismatch
description: a failed expectation fails the run but later steps still execute
steps:
  - create: {collection: behavior, fixture: behavior/create.json}
  - read: {collection: behavior}
    expect: {body: {"behaviorGroups[0].name": Nope}}
  - delete: {collection: behavior}
assertions:
  - {type: trace_count, method: DELETE, count: 1}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-mismatch"))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, `step 2:read: body behaviorGroups[0].name = "Smalltalk", want "Nope"`, result.Errors[0])
	assert.NotEmpty(t, stepEvents(result, "3:delete"))
}

func TestRun_StaleVersionStopsSteps(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	fake.SetStaleVersions(true)
	scenario := parseTestScenario(t, `
name: stale
description: an update that keeps the version violates the contract
steps:
  - create: {collection: behavior, fixture: behavior/create.json}
  - update: {collection: behavior, fixture: behavior/update.json}
  - read: {collection: behavior}
assertions:
  - {type: trace_count, method: GET, count: 7}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-stale"))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1, "assertions are skipped after a failed step")
	assert.True(t, strings.HasPrefix(result.Errors[0], "step 2:update: update: PUT "), result.Errors[0])
	assert.Contains(t, result.Errors[0], "?version=2")
	assert.Empty(t, stepEvents(result, "3:read"))
}

func TestRun_DeletedResourceStillReadable(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	fake.SetKeepDeleted(true)
	scenario := parseTestScenario(t, `
name: keep_deleted
description: a resource readable after delete violates the contract
steps:
  - create: {collection: output, body: {outputSet: []}}
  - delete: {collection: output}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-deleted"))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "status 404 on read after delete")
}

func TestRun_SetupFailure(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	fake.SetDeploySequence(composedBotID, 1, testutil.StatusInProgress, testutil.StatusError)
	scenario := parseTestScenario(t, `
name: broken_deploy
description: a deployment that ends in ERROR fails setup
bots:
  - {name: main, dictionary: bot/dictionary.json, behavior: bot/behavior.json, output: bot/output.json}
steps:
  - conversation: {bot: main, as: c}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-setup"))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "setup: bot main: "), result.Errors[0])
	assert.Empty(t, stepEvents(result, "1:conversation"))
	assert.Equal(t, 2, fake.StatusPolls(composedBotID, 1))
}

func TestRun_UnknownAliasFailsStep(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	scenario := parseTestScenario(t, `
name: unknown_alias
description: steps may only use resources created earlier
steps:
  - say: {conversation: nowhere, input: hello}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-alias"))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{`step 1:say: unknown conversation "nowhere"`}, result.Errors)
	assert.Empty(t, result.Trace)
}

func TestRun_MultipleBotsGroupSetupTrace(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	scenario := parseTestScenario(t, `
name: two_bots
description: concurrent setup still yields a trace grouped per bot
bots:
  - {name: first, dictionary: bot/dictionary.json, behavior: bot/behavior.json, output: bot/output.json}
  - {name: second, import: bot/weather_bot_v1.zip}
steps:
  - conversation: {bot: second, as: c}
`)

	result, err := Run(context.Background(), scenario, newTestEnv(fake, "run-two"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	var steps []string
	for _, e := range result.Trace {
		if len(steps) == 0 || steps[len(steps)-1] != e.Step {
			steps = append(steps, e.Step)
		}
	}
	assert.Equal(t, []string{"setup:first", "setup:second", "1:conversation"}, steps)
	assert.Equal(t, "/backup/import", stepEvents(result, "setup:second")[0].Path)
}
