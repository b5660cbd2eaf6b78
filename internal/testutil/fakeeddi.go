package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// EndedMessage is the body the service answers input to an ended
// conversation with.
const EndedMessage = "Conversation has ended!"

// Deployment status texts served by the fake.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusReady      = "READY"
	StatusError      = "ERROR"
	StatusNotFound   = "NOT_FOUND"
)

var storeURIs = map[string]string{
	"/regulardictionarystore/regulardictionaries/": "eddi://ai.labs.regulardictionary",
	"/behaviorstore/behaviorsets/":                 "eddi://ai.labs.behavior",
	"/outputstore/outputsets/":                     "eddi://ai.labs.output",
	"/packagestore/packages/":                      "eddi://ai.labs.package",
	"/botstore/bots/":                              "eddi://ai.labs.bot",
	"/parserstore/parsers/":                        "eddi://ai.labs.parser",
}

// Turn is the scripted reaction of the fake bot to one input.
type Turn struct {
	Expressions  string
	Intents      []string
	Rules        []string
	Actions      []string
	Outputs      []string
	QuickReplies []QuickReply
	Properties   map[string]any
	End          bool
}

// QuickReply is one suggested answer attached to a turn.
type QuickReply struct {
	Value       string `json:"value"`
	Expressions string `json:"expressions"`
}

// Script decides how the fake bot answers. Inputs are matched after
// trimming and lower-casing.
type Script struct {
	Welcome  *Turn
	Turns    map[string]Turn
	Fallback Turn
	// Parser maps parser input to the expressions the semantic parser
	// returns.
	Parser map[string]string
}

// DefaultScript greets on "hello", ends the conversation on "bye" and
// opens every conversation with a welcome message.
func DefaultScript() Script {
	return Script{
		Welcome: &Turn{
			Actions: []string{"global_menu", "welcome"},
			Outputs: []string{"Welcome! I am E.D.D.I."},
		},
		Turns: map[string]Turn{
			"hello": {
				Expressions: "greeting(hello)",
				Intents:     []string{"greeting"},
				Rules:       []string{"Greeting"},
				Actions:     []string{"greet"},
				Outputs:     []string{"Hi there! Nice to meet up! :-)"},
			},
			"show options": {
				Expressions: "options(show)",
				Rules:       []string{"Options"},
				Actions:     []string{"giving_two_options"},
				Outputs:     []string{"Choose one"},
				QuickReplies: []QuickReply{
					{Value: "Option 1", Expressions: "quickReply(option1)"},
					{Value: "Option 2", Expressions: "quickReply(option2)"},
				},
			},
			"bye": {
				Expressions: "goodbye(bye)",
				Rules:       []string{"Goodbye"},
				Actions:     []string{"say_goodbye", "CONVERSATION_END"},
				Outputs:     []string{"See you soon!"},
				End:         true,
			},
		},
		Fallback: Turn{
			Expressions: "unknown(*)",
			Rules:       []string{"Fallback"},
			Actions:     []string{"unknown"},
			Outputs:     []string{"Sorry, I did not get that."},
		},
		Parser: map[string]string{
			"hello":          "greeting(hello)",
			"good afternoon": "greeting(good_afternoon)",
		},
	}
}

type document struct {
	versions map[int]json.RawMessage
	deleted  map[int]bool
	latest   int
}

type deployment struct {
	sequence []string
	polls    int
	triggers int
	auto     []bool
}

type entry struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	public bool
}

type step struct {
	entries []entry
	output  map[string]any
	at      time.Time
}

type conversation struct {
	id         string
	botID      string
	botVersion int
	userID     string
	state      string
	steps      []step
	pending    *step
	lagReads   int
	properties map[string]any
}

// FakeEDDI is an in-memory stand-in for the service, good enough to
// exercise every driver without a running engine.
type FakeEDDI struct {
	mu            sync.Mutex
	ids           *ObjectIDs
	script        Script
	docs          map[string]map[string]*document
	deployments   map[string]*deployment
	sequences     map[string][]string
	conversations map[string]*conversation
	triggers      map[string]json.RawMessage
	managed       map[string]string
	imports       int

	welcomeLag    int
	staleVersions bool
	keepDeleted   bool
	endedBody     string

	server *httptest.Server
}

// NewFakeEDDI starts a fake service for the duration of the test.
func NewFakeEDDI(t testing.TB, script Script) *FakeEDDI {
	t.Helper()
	f := &FakeEDDI{
		ids:           NewObjectIDs(),
		script:        script,
		docs:          make(map[string]map[string]*document),
		deployments:   make(map[string]*deployment),
		sequences:     make(map[string][]string),
		conversations: make(map[string]*conversation),
		triggers:      make(map[string]json.RawMessage),
		managed:       make(map[string]string),
		endedBody:     EndedMessage,
	}
	f.server = httptest.NewServer(f.Router())
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the base URL of the running fake.
func (f *FakeEDDI) URL() string { return f.server.URL }

// Router returns the HTTP routes of the fake.
func (f *FakeEDDI) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/administration/{env}/deploy/{id}", f.handleDeploy)
	r.Get("/administration/{env}/deploymentstatus/{id}", f.handleDeploymentStatus)

	r.Post("/bots/{env}/{botID}", f.handleCreateConversation)
	r.Post("/bots/{env}/{botID}/", f.handleCreateConversation)
	r.Post("/bots/{env}/{botID}/{convID}", f.handleSay)
	r.Get("/bots/{env}/{botID}/{convID}", f.handleLog)

	r.Post("/parser/{id}", f.handleParse)
	r.Post("/backup/import", f.handleImport)

	r.Put("/bottriggerstore/bottriggers/{intent}", f.handlePutTrigger)
	r.Post("/managedbots/{intent}/{userID}/endConversation", f.handleEndManaged)
	r.Post("/managedbots/{intent}/{userID}", f.handleSayManaged)

	r.Post("/{store}/{kind}/", f.handleCreate)
	r.Get("/{store}/{kind}/{id}", f.handleRead)
	r.Put("/{store}/{kind}/{id}", f.handleMutate)
	r.Patch("/{store}/{kind}/{id}", f.handleMutate)
	r.Delete("/{store}/{kind}/{id}", f.handleDelete)
	return r
}

// SetWelcomeLag sets the number of log reads a new conversation answers
// without its welcome step.
func (f *FakeEDDI) SetWelcomeLag(reads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomeLag = reads
}

// SetStaleVersions makes updates and patches answer with the unchanged
// version.
func (f *FakeEDDI) SetStaleVersions(stale bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleVersions = stale
}

// SetKeepDeleted makes deleted documents stay readable.
func (f *FakeEDDI) SetKeepDeleted(keep bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepDeleted = keep
}

// SetEndedBody sets the text answered with 410 to input for an ended
// conversation.
func (f *FakeEDDI) SetEndedBody(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endedBody = body
}

// SetDeploySequence scripts the statuses reported for id at version. The
// last status repeats once the sequence is exhausted.
func (f *FakeEDDI) SetDeploySequence(id string, version int, statuses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequences[deployKey(id, version)] = statuses
}

// StatusPolls returns how many status reads id at version has received.
func (f *FakeEDDI) StatusPolls(id string, version int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[deployKey(id, version)]; ok {
		return d.polls
	}
	return 0
}

// DeployTriggers returns how many deploy requests id at version received
// and the autoDeploy flag of each.
func (f *FakeEDDI) DeployTriggers(id string, version int) (int, []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[deployKey(id, version)]; ok {
		return d.triggers, append([]bool(nil), d.auto...)
	}
	return 0, nil
}

// Document returns the stored body of a document version.
func (f *FakeEDDI) Document(path, id string, version int) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[path][id]
	if !ok {
		return nil, false
	}
	body, ok := doc.versions[version]
	return body, ok
}

// ConversationState returns the state of a conversation.
func (f *FakeEDDI) ConversationState(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conversations[id]; ok {
		return c.state
	}
	return ""
}

func deployKey(id string, version int) string {
	return id + ":" + strconv.Itoa(version)
}

func queryVersion(r *http.Request) (int, bool) {
	v, err := strconv.Atoi(r.URL.Query().Get("version"))
	return v, err == nil
}

func queryBool(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func storePath(r *http.Request) string {
	return "/" + chi.URLParam(r, "store") + "/" + chi.URLParam(r, "kind") + "/"
}

func (f *FakeEDDI) handleCreate(w http.ResponseWriter, r *http.Request) {
	path := storePath(r)
	uri, ok := storeURIs[path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		writeText(w, http.StatusBadRequest, "invalid json")
		return
	}

	f.mu.Lock()
	id := f.ids.Next()
	if f.docs[path] == nil {
		f.docs[path] = make(map[string]*document)
	}
	f.docs[path][id] = &document{
		versions: map[int]json.RawMessage{1: body},
		deleted:  make(map[int]bool),
		latest:   1,
	}
	f.mu.Unlock()

	w.Header().Set("Location", fmt.Sprintf("%s%s%s?version=1", uri, path, id))
	w.WriteHeader(http.StatusCreated)
}

func (f *FakeEDDI) lookup(r *http.Request) (*document, int, bool) {
	doc, ok := f.docs[storePath(r)][chi.URLParam(r, "id")]
	if !ok {
		return nil, 0, false
	}
	version, ok := queryVersion(r)
	if !ok {
		version = doc.latest
	}
	if _, exists := doc.versions[version]; !exists || doc.deleted[version] {
		return doc, version, false
	}
	return doc, version, true
}

func (f *FakeEDDI) handleRead(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	doc, version, ok := f.lookup(r)
	var body json.RawMessage
	if ok {
		body = doc.versions[version]
	}
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (f *FakeEDDI) handleMutate(w http.ResponseWriter, r *http.Request) {
	path := storePath(r)
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		writeText(w, http.StatusBadRequest, "invalid json")
		return
	}

	f.mu.Lock()
	doc, version, ok := f.lookup(r)
	if !ok {
		f.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	if version != doc.latest {
		f.mu.Unlock()
		writeText(w, http.StatusConflict, "version is not the latest")
		return
	}
	if r.Method == http.MethodPatch {
		body = mergeObjects(doc.versions[version], body)
	}
	next := version + 1
	if f.staleVersions {
		next = version
	}
	doc.versions[next] = body
	doc.latest = next
	f.mu.Unlock()

	w.Header().Set("Location", fmt.Sprintf("%s%s%s?version=%d", storeURIs[path], path, chi.URLParam(r, "id"), next))
	w.WriteHeader(http.StatusOK)
}

// mergeObjects applies patch over base key by key. Non-object documents
// are replaced.
func mergeObjects(base, patch json.RawMessage) json.RawMessage {
	var b, p map[string]json.RawMessage
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(patch, &p) != nil {
		return patch
	}
	for k, v := range p {
		b[k] = v
	}
	merged, err := json.Marshal(b)
	if err != nil {
		return patch
	}
	return merged
}

func (f *FakeEDDI) handleDelete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	doc, version, ok := f.lookup(r)
	if ok && !f.keepDeleted {
		doc.deleted[version] = true
	}
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *FakeEDDI) handleDeploy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, ok := queryVersion(r)
	if !ok {
		writeText(w, http.StatusBadRequest, "version required")
		return
	}

	f.mu.Lock()
	key := deployKey(id, version)
	d, exists := f.deployments[key]
	if !exists {
		seq := f.sequences[key]
		if len(seq) == 0 {
			seq = []string{StatusInProgress, StatusReady}
		}
		d = &deployment{sequence: seq}
		f.deployments[key] = d
	}
	d.triggers++
	d.auto = append(d.auto, queryBool(r, "autoDeploy", true))
	f.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
}

func (f *FakeEDDI) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	version, _ := queryVersion(r)

	f.mu.Lock()
	d, ok := f.deployments[deployKey(chi.URLParam(r, "id"), version)]
	status := StatusNotFound
	if ok {
		i := d.polls
		if i >= len(d.sequence) {
			i = len(d.sequence) - 1
		}
		status = d.sequence[i]
		d.polls++
	}
	f.mu.Unlock()

	writeText(w, http.StatusOK, status)
}

// deployedLocked reports whether a bot has been deployed without error.
// Callers hold f.mu.
func (f *FakeEDDI) deployedLocked(botID string) (int, bool) {
	for key, d := range f.deployments {
		id, v, _ := strings.Cut(key, ":")
		if id != botID {
			continue
		}
		if d.sequence[len(d.sequence)-1] == StatusError {
			continue
		}
		version, _ := strconv.Atoi(v)
		return version, true
	}
	return 0, false
}

func (f *FakeEDDI) startConversationLocked(botID string, version int, userID string) *conversation {
	c := &conversation{
		id:         f.ids.Next(),
		botID:      botID,
		botVersion: version,
		userID:     userID,
		state:      StatusReady,
		lagReads:   f.welcomeLag,
		properties: make(map[string]any),
	}
	if f.script.Welcome != nil {
		s := c.buildStep(*f.script.Welcome, "", nil)
		c.pending = &s
		if c.lagReads == 0 {
			c.flush()
		}
	}
	f.conversations[c.id] = c
	return c
}

func (f *FakeEDDI) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")

	f.mu.Lock()
	version, ok := f.deployedLocked(botID)
	if !ok {
		f.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	c := f.startConversationLocked(botID, version, r.URL.Query().Get("userId"))
	f.mu.Unlock()

	w.Header().Set("Location", "eddi://ai.labs.conversation/conversationstore/conversations/"+c.id)
	w.WriteHeader(http.StatusCreated)
}

type inputData struct {
	Input   string                     `json:"input"`
	Context map[string]json.RawMessage `json:"context"`
}

func (f *FakeEDDI) handleSay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	in := inputData{Input: string(body)}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(body, &in); err != nil {
			writeText(w, http.StatusBadRequest, "invalid input data")
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[chi.URLParam(r, "convID")]
	if !ok || c.botID != chi.URLParam(r, "botID") {
		http.NotFound(w, r)
		return
	}
	f.sayLocked(w, r, c, in)
}

func (f *FakeEDDI) sayLocked(w http.ResponseWriter, r *http.Request, c *conversation, in inputData) {
	if c.state == "ENDED" {
		writeText(w, http.StatusGone, f.endedBody)
		return
	}
	c.flush()

	turn, ok := f.script.Turns[strings.ToLower(strings.TrimSpace(in.Input))]
	if !ok {
		turn = f.script.Fallback
	}
	c.steps = append(c.steps, c.buildStep(turn, in.Input, in.Context))
	for k, v := range turn.Properties {
		c.properties[k] = map[string]any{"name": k, "value": v, "scope": "conversation"}
	}
	if turn.End {
		c.state = "ENDED"
	}

	detailed := queryBool(r, "returnDetailed", false)
	currentOnly := queryBool(r, "returnCurrentStepOnly", true)
	writeJSON(w, http.StatusOK, c.snapshot(detailed, currentOnly))
}

func (f *FakeEDDI) handleLog(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[chi.URLParam(r, "convID")]
	if !ok || c.botID != chi.URLParam(r, "botID") {
		http.NotFound(w, r)
		return
	}
	if c.pending != nil {
		if c.lagReads > 0 {
			c.lagReads--
		} else {
			c.flush()
		}
	}
	writeJSON(w, http.StatusOK, c.snapshot(queryBool(r, "returnDetailed", false), false))
}

func (c *conversation) flush() {
	if c.pending != nil {
		c.steps = append(c.steps, *c.pending)
		c.pending = nil
	}
}

func (c *conversation) buildStep(turn Turn, input string, ctx map[string]json.RawMessage) step {
	var entries []entry
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var v any
		_ = json.Unmarshal(ctx[k], &v)
		entries = append(entries, entry{Key: "context:" + k, Value: v})
	}
	if input != "" {
		entries = append(entries,
			entry{Key: "input:initial", Value: input, public: true},
			entry{Key: "input:normalized", Value: strings.ToLower(strings.TrimSpace(input))},
		)
	}
	if turn.Expressions != "" {
		entries = append(entries, entry{Key: "expressions:parsed", Value: turn.Expressions})
	}
	if len(turn.Intents) > 0 {
		entries = append(entries, entry{Key: "intents", Value: turn.Intents})
	}
	if len(turn.Rules) > 0 {
		entries = append(entries, entry{Key: "behavior_rules:success", Value: turn.Rules})
	}
	if len(turn.Properties) > 0 {
		entries = append(entries, entry{Key: "properties:extracted", Value: turn.Properties})
	}
	action := ""
	if len(turn.Actions) > 0 {
		action = turn.Actions[0]
		if len(turn.Actions) > 1 && input == "" {
			action = turn.Actions[len(turn.Actions)-1]
		}
		entries = append(entries, entry{Key: "actions", Value: turn.Actions, public: true})
	}
	for _, text := range turn.Outputs {
		entries = append(entries, entry{
			Key:    "output:text:" + action,
			Value:  map[string]any{"type": "text", "text": text},
			public: true,
		})
	}
	if len(turn.QuickReplies) > 0 {
		entries = append(entries, entry{Key: "quickReplies:" + action, Value: turn.QuickReplies, public: true})
	}

	output := map[string]any{"actions": turn.Actions}
	if input != "" {
		output["input"] = input
	}
	return step{entries: entries, output: output, at: time.Now()}
}

func (c *conversation) snapshot(detailed, currentOnly bool) map[string]any {
	steps := c.steps
	if currentOnly && len(steps) > 0 {
		steps = steps[len(steps)-1:]
	}
	wireSteps := make([]map[string]any, 0, len(steps))
	outputs := make([]map[string]any, 0, len(steps))
	for _, s := range steps {
		entries := make([]entry, 0, len(s.entries))
		for _, e := range s.entries {
			if detailed || e.public {
				entries = append(entries, e)
			}
		}
		wireSteps = append(wireSteps, map[string]any{
			"conversationStep": entries,
			"timestamp":        s.at.UnixMilli(),
		})
		outputs = append(outputs, s.output)
	}
	return map[string]any{
		"botId":                  c.botID,
		"botVersion":             c.botVersion,
		"userId":                 c.userID,
		"environment":            "unrestricted",
		"conversationState":      c.state,
		"redoCacheSize":          0,
		"undoAvailable":          len(c.steps) > 1,
		"redoAvailable":          false,
		"conversationSteps":      wireSteps,
		"conversationOutputs":    outputs,
		"conversationProperties": c.properties,
	}
}

func (f *FakeEDDI) handleParse(w http.ResponseWriter, r *http.Request) {
	version, _ := queryVersion(r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	doc, ok := f.docs["/parserstore/parsers/"][chi.URLParam(r, "id")]
	exists := ok && doc.versions[version] != nil && !doc.deleted[version]
	f.mu.Unlock()
	if !exists {
		http.NotFound(w, r)
		return
	}

	input := strings.ToLower(strings.TrimSpace(string(body)))
	expressions, ok := f.script.Parser[input]
	if !ok {
		expressions = "unknown(" + input + ")"
	}
	writeJSON(w, http.StatusOK, []map[string]any{{"expressions": expressions}})
}

func (f *FakeEDDI) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || r.Header.Get("Content-Type") != "application/zip" || len(body) == 0 {
		writeText(w, http.StatusBadRequest, "zip body required")
		return
	}

	f.mu.Lock()
	id := f.ids.Next()
	f.imports++
	if f.docs["/botstore/bots/"] == nil {
		f.docs["/botstore/bots/"] = make(map[string]*document)
	}
	f.docs["/botstore/bots/"][id] = &document{
		versions: map[int]json.RawMessage{1: json.RawMessage(`{"packages":[]}`)},
		deleted:  make(map[int]bool),
		latest:   1,
	}
	f.mu.Unlock()

	w.Header().Set("Location", "eddi://ai.labs.bot/botstore/bots/"+id+"?version=1")
	w.WriteHeader(http.StatusOK)
}

type botTrigger struct {
	Intent         string `json:"intent"`
	BotDeployments []struct {
		Environment string `json:"environment"`
		BotID       string `json:"botId"`
	} `json:"botDeployments"`
}

func (f *FakeEDDI) handlePutTrigger(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	var trigger botTrigger
	if err != nil || json.Unmarshal(body, &trigger) != nil || len(trigger.BotDeployments) == 0 {
		writeText(w, http.StatusBadRequest, "invalid bot trigger")
		return
	}
	f.mu.Lock()
	f.triggers[chi.URLParam(r, "intent")] = body
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func managedKey(intent, userID string) string {
	return intent + "/" + userID
}

func (f *FakeEDDI) handleEndManaged(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := managedKey(chi.URLParam(r, "intent"), chi.URLParam(r, "userID"))
	if id, ok := f.managed[key]; ok {
		if c, ok := f.conversations[id]; ok {
			c.state = "ENDED"
		}
		delete(f.managed, key)
	}
	w.WriteHeader(http.StatusOK)
}

func (f *FakeEDDI) handleSayManaged(w http.ResponseWriter, r *http.Request) {
	var in inputData
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeText(w, http.StatusBadRequest, "invalid input data")
		return
	}
	intent := chi.URLParam(r, "intent")
	userID := chi.URLParam(r, "userID")

	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.triggers[intent]
	if !ok {
		http.NotFound(w, r)
		return
	}
	var trigger botTrigger
	_ = json.Unmarshal(raw, &trigger)
	botID := trigger.BotDeployments[0].BotID

	key := managedKey(intent, userID)
	c, ok := f.conversations[f.managed[key]]
	if !ok || c.state == "ENDED" {
		version, deployed := f.deployedLocked(botID)
		if !deployed {
			http.NotFound(w, r)
			return
		}
		c = f.startConversationLocked(botID, version, userID)
		c.flush()
		f.managed[key] = c.id
	}
	f.sayLocked(w, r, c, in)
}

// Imports returns how many backups have been imported.
func (f *FakeEDDI) Imports() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imports
}
