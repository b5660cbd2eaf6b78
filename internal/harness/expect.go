package harness

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/conversation"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// outcome is what one step produced.
type outcome struct {
	resp    *client.Response
	id      resource.ID
	log     *conversation.Log
	session *conversation.Session
	code    int // status of steps that keep no response
	err     error
}

// status returns the HTTP status of the step, taken from the response or
// from the protocol error that rejected it.
func (o *outcome) status() int {
	var ended *conversation.EndedError
	if errors.As(o.err, &ended) {
		return ended.Status
	}
	var perr *resource.ProtocolError
	if errors.As(o.err, &perr) {
		return perr.Status
	}
	if o.resp != nil {
		return o.resp.Status
	}
	return o.code
}

// text returns the trimmed response body.
func (o *outcome) text() string {
	var ended *conversation.EndedError
	if errors.As(o.err, &ended) {
		return ended.Body
	}
	var perr *resource.ProtocolError
	if errors.As(o.err, &perr) {
		return strings.TrimSpace(perr.Body)
	}
	if o.resp != nil {
		return o.resp.Text()
	}
	return ""
}

// expectedFailure reports whether the step error is the failure exp
// asked for.
func (o *outcome) expectedFailure(exp *Expect) bool {
	return o.err != nil && exp != nil && exp.Status != 0 && o.status() == exp.Status
}

func (o *outcome) ended() bool {
	if conversation.IsEnded(o.err) {
		return true
	}
	return o.session != nil && o.session.Ended()
}

// checkExpect evaluates exp and returns one message per failed check.
// Map-valued checks run in sorted key order.
func checkExpect(exp *Expect, out *outcome) []string {
	if exp == nil {
		return nil
	}
	var failures []string
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	if exp.Status != 0 && out.status() != exp.Status {
		fail("status = %d, want %d", out.status(), exp.Status)
	}
	if exp.Version != 0 && out.id.Version != exp.Version {
		fail("version = %d, want %d", out.id.Version, exp.Version)
	}
	if exp.Text != nil && out.text() != *exp.Text {
		fail("text = %q, want %q", out.text(), *exp.Text)
	}
	if exp.Ended != nil && out.ended() != *exp.Ended {
		fail("ended = %t, want %t", out.ended(), *exp.Ended)
	}

	if needsTree(exp) {
		tree, err := bodyTree(out)
		if err != nil {
			fail("%v", err)
		} else {
			failures = append(failures, checkTree(exp, tree)...)
		}
	}

	if exp.Order != nil {
		if msg := checkOrder(exp.Order, out.log); msg != "" {
			fail("%s", msg)
		}
	}
	return failures
}

func needsTree(exp *Expect) bool {
	return len(exp.Body) > 0 || len(exp.HasItem) > 0 || len(exp.Contains) > 0 || len(exp.Size) > 0 || len(exp.Null) > 0
}

func bodyTree(out *outcome) (any, error) {
	if out.resp == nil || len(out.resp.Body) == 0 {
		return nil, fmt.Errorf("no response body to inspect")
	}
	tree, err := out.resp.Tree()
	if err != nil {
		return nil, fmt.Errorf("response body is not JSON: %w", err)
	}
	return tree, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkTree(exp *Expect, tree any) []string {
	var failures []string
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}
	lookup := func(path string) (any, bool) {
		v, ok, err := Lookup(tree, path)
		if err != nil {
			fail("%v", err)
			return nil, false
		}
		return v, ok
	}

	for _, path := range sortedKeys(exp.Body) {
		want := exp.Body[path]
		got, ok := lookup(path)
		if !ok {
			fail("body %s: missing, want %s", path, render(want))
			continue
		}
		if !valuesEqual(want, got) {
			fail("body %s = %s, want %s", path, render(got), render(want))
		}
	}
	for _, path := range sortedKeys(exp.HasItem) {
		want := exp.HasItem[path]
		got, ok := lookup(path)
		if !ok || !hasItem(got, want) {
			fail("has_item %s: %s not in %s", path, render(want), render(got))
		}
	}
	for _, path := range sortedKeys(exp.Contains) {
		want := fmt.Sprint(exp.Contains[path])
		got, ok := lookup(path)
		if !ok {
			fail("contains %s: missing", path)
			continue
		}
		text, isString := got.(string)
		if !isString {
			text = render(got)
		}
		if !strings.Contains(text, want) {
			fail("contains %s: %s does not contain %q", path, render(got), want)
		}
	}
	for _, path := range sortedKeys(exp.Size) {
		want := exp.Size[path]
		got, ok := lookup(path)
		n, sized := sizeOf(got)
		if !ok || !sized {
			fail("size %s: no list, object or string at path", path)
			continue
		}
		if n != want {
			fail("size %s = %d, want %d", path, n, want)
		}
	}
	for _, path := range exp.Null {
		if got, ok := lookup(path); ok && got != nil {
			fail("null %s: got %s", path, render(got))
		}
	}
	return failures
}

func checkOrder(exp *OrderExpect, log *conversation.Log) string {
	if log == nil {
		return "order: step produced no conversation log"
	}
	i := exp.Step
	if i < 0 {
		i += log.StepCount()
	}
	step, ok := log.Step(i)
	if !ok {
		return fmt.Sprintf("order: no conversation step %d in %d steps", exp.Step, log.StepCount())
	}
	if err := conversation.VerifyCausalOrder(step); err != nil {
		return fmt.Sprintf("order: step %d: %v", i, err)
	}
	if !conversation.Subsequence(step, exp.Keys) {
		return fmt.Sprintf("order: step %d keys %v do not contain %v in order", i, step.Keys(), exp.Keys)
	}
	return ""
}
