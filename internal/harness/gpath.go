package harness

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// segment is one hop of a path: a field name or a list index.
type segment struct {
	name  string
	index int
	isIdx bool
}

// parsePath splits "a.b[1].c" into segments. Negative indexes count from
// the end of a list.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, nil
	}
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("path %q: empty segment", path)
		}
		name, rest, _ := strings.Cut(part, "[")
		if name != "" {
			segs = append(segs, segment{name: name})
		}
		if rest == "" {
			continue
		}
		rest = "[" + rest
		for rest != "" {
			if rest[0] != '[' {
				return nil, fmt.Errorf("path %q: unexpected %q", path, rest)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unclosed index", path)
			}
			n, err := strconv.Atoi(rest[1:end])
			if err != nil {
				return nil, fmt.Errorf("path %q: index %q is not an integer", path, rest[1:end])
			}
			segs = append(segs, segment{index: n, isIdx: true})
			rest = rest[end+1:]
		}
	}
	return segs, nil
}

// Lookup evaluates path against a decoded JSON tree. A field name applied
// to a list collects that field from every element that has it. The
// boolean is false when the path leads nowhere.
func Lookup(tree any, path string) (any, bool, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}
	v, ok := walk(tree, segs)
	return v, ok, nil
}

func walk(v any, segs []segment) (any, bool) {
	if len(segs) == 0 {
		return v, true
	}
	seg := segs[0]
	switch node := v.(type) {
	case map[string]any:
		if seg.isIdx {
			return nil, false
		}
		child, ok := node[seg.name]
		if !ok {
			return nil, false
		}
		return walk(child, segs[1:])
	case []any:
		if seg.isIdx {
			i := seg.index
			if i < 0 {
				i += len(node)
			}
			if i < 0 || i >= len(node) {
				return nil, false
			}
			return walk(node[i], segs[1:])
		}
		collected := make([]any, 0, len(node))
		for _, elem := range node {
			if child, ok := walk(elem, segs); ok {
				collected = append(collected, child)
			}
		}
		return collected, true
	default:
		return nil, false
	}
}

// normalize maps YAML and JSON scalars onto one representation so values
// from both sources compare with ==: whole numbers become int64, other
// numbers float64.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return normalize(f)
		}
		return x.String()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint64:
		return int64(x)
	case float32:
		return normalize(float64(x))
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// valuesEqual compares an expected YAML value with an actual JSON value.
func valuesEqual(expected, actual any) bool {
	return deepEqual(normalize(expected), normalize(actual))
}

func deepEqual(a, b any) bool {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !deepEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !deepEqual(xv, yv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// hasItem reports whether list contains want.
func hasItem(list any, want any) bool {
	items, ok := normalize(list).([]any)
	if !ok {
		return false
	}
	w := normalize(want)
	for _, item := range items {
		if deepEqual(w, item) {
			return true
		}
	}
	return false
}

// sizeOf returns the length of a list, object or string.
func sizeOf(v any) (int, bool) {
	switch x := v.(type) {
	case []any:
		return len(x), true
	case map[string]any:
		return len(x), true
	case string:
		return len(x), true
	default:
		return 0, false
	}
}

// render formats a value for error messages.
func render(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
