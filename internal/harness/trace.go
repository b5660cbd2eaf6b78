package harness

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/labsai/EDDI-integration-tests/internal/client"
)

const setupStepPrefix = "setup:"

// traceRecorder collects exchanges as they happen. It is shared by the
// concurrent setup goroutines.
type traceRecorder struct {
	mu        sync.Mutex
	exchanges []client.Exchange
	keys      map[int64][]string
}

func newTraceRecorder() *traceRecorder {
	return &traceRecorder{keys: make(map[int64][]string)}
}

// Record implements client.Recorder.
func (r *traceRecorder) Record(_ context.Context, ex client.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, ex)
}

// annotate attaches conversation step keys to the exchange with seq.
func (r *traceRecorder) annotate(seq int64, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[seq] = keys
}

// aliases maps service-generated identifiers to scenario names.
type aliases struct {
	mu    sync.Mutex
	names map[string]string
}

func newAliases() *aliases {
	return &aliases{names: make(map[string]string)}
}

func (a *aliases) add(id, name string) {
	if id == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.names[id]; !exists {
		a.names[id] = name
	}
}

// normalizePath replaces every path segment and query value that is a
// known id with {alias}.
func (a *aliases) normalizePath(raw string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, query, hasQuery := strings.Cut(raw, "?")
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		if name, ok := a.names[seg]; ok {
			segs[i] = "{" + name + "}"
		}
	}
	out := strings.Join(segs, "/")
	if !hasQuery {
		return out
	}
	pairs := strings.Split(query, "&")
	for i, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if name, known := a.names[v]; known {
			pairs[i] = k + "={" + name + "}"
		}
	}
	return out + "?" + strings.Join(pairs, "&")
}

// build orders the recorded exchanges and normalises their paths. Setup
// runs bots concurrently, so its exchanges are grouped per bot in the
// order the scenario lists them. Sequence numbers are reassigned.
func (r *traceRecorder) build(names *aliases, botOrder []string) []TraceEvent {
	r.mu.Lock()
	exchanges := append([]client.Exchange(nil), r.exchanges...)
	keys := make(map[int64][]string, len(r.keys))
	for k, v := range r.keys {
		keys[k] = v
	}
	r.mu.Unlock()

	rank := make(map[string]int, len(botOrder))
	for i, name := range botOrder {
		rank[setupStepPrefix+name] = i
	}
	group := func(ex client.Exchange) int {
		if i, ok := rank[ex.Step]; ok {
			return i
		}
		return len(botOrder)
	}
	sort.SliceStable(exchanges, func(i, j int) bool {
		gi, gj := group(exchanges[i]), group(exchanges[j])
		if gi != gj {
			return gi < gj
		}
		return exchanges[i].Seq < exchanges[j].Seq
	})

	events := make([]TraceEvent, len(exchanges))
	for i, ex := range exchanges {
		events[i] = TraceEvent{
			Seq:    int64(i + 1),
			Step:   ex.Step,
			Method: ex.Method,
			Path:   names.normalizePath(ex.Path),
			Status: ex.Status,
			Keys:   keys[ex.Seq],
			Error:  ex.Err,
		}
	}
	return events
}

// pathOnly strips the query.
func pathOnly(p string) string {
	path, _, _ := strings.Cut(p, "?")
	return path
}

// pathMatches reports whether the event path without query starts with
// prefix.
func pathMatches(eventPath, prefix string) bool {
	return strings.HasPrefix(pathOnly(eventPath), prefix)
}
