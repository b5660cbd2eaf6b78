// Package fixture loads request bodies from a fixture tree and fills in
// identifiers known only at run time.
package fixture

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// Placeholders the loader substitutes for the resource under test.
const (
	PlaceholderID      = "<UNIQUE_ID>"
	PlaceholderVersion = "<VERSION>"
)

// Loader reads fixtures from a file system rooted at the fixture tree.
type Loader struct {
	fsys fs.FS
}

// NewLoader returns a Loader reading from fsys.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys}
}

// NewDirLoader returns a Loader rooted at dir on disk.
func NewDirLoader(dir string) *Loader {
	return &Loader{fsys: os.DirFS(dir)}
}

// Load returns the raw bytes of name, a slash-separated path below the
// root.
func (l *Loader) Load(name string) ([]byte, error) {
	clean := path.Clean(strings.TrimPrefix(name, "/"))
	data, err := fs.ReadFile(l.fsys, clean)
	if err != nil {
		return nil, fmt.Errorf("load fixture %s: %w", name, err)
	}
	return data, nil
}

// LoadJSON loads name, substitutes vars and checks the result is valid
// JSON.
func (l *Loader) LoadJSON(name string, vars map[string]string) (json.RawMessage, error) {
	data, err := l.Load(name)
	if err != nil {
		return nil, err
	}
	out := Substitute(data, vars)
	if !json.Valid(out) {
		return nil, fmt.Errorf("fixture %s is not valid json after substitution", name)
	}
	return out, nil
}

// Substitute replaces every occurrence of each key of vars with its value.
// Longer keys are replaced first so overlapping placeholders resolve
// deterministically.
func Substitute(data []byte, vars map[string]string) []byte {
	if len(vars) == 0 {
		return data
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, vars[k])
	}
	return []byte(strings.NewReplacer(pairs...).Replace(string(data)))
}
