// Package labels builds the label registry that maps label names to
// category identifiers.
package labels

import (
	"os"
	"strings"
	"unicode"

	"github.com/FocuswithJustin/voc2coco/core/errors"
)

// Entry is one registry row.
type Entry struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// Registry maps label names to dense 1-based identifiers in first-seen
// order. A Registry is immutable after construction.
type Registry struct {
	ids     map[string]int
	entries []Entry
}

// Parse builds a Registry from label names separated by any run of
// whitespace and/or commas. Repeated names keep the id of their first
// occurrence. Empty input yields an empty registry.
func Parse(text string) *Registry {
	r := &Registry{ids: make(map[string]int)}
	for _, name := range strings.FieldsFunc(text, isSeparator) {
		if _, ok := r.ids[name]; ok {
			continue
		}
		id := len(r.entries) + 1
		r.ids[name] = id
		r.entries = append(r.entries, Entry{Name: name, ID: id})
	}
	return r
}

// Load reads a labels file and parses it.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "labels file", ID: path, Err: err}
		}
		return nil, errors.NewIO("read", path, err)
	}
	return Parse(string(data)), nil
}

func isSeparator(r rune) bool {
	return r == ',' || unicode.IsSpace(r)
}

// Lookup returns the id of name.
func (r *Registry) Lookup(name string) (int, bool) {
	id, ok := r.ids[name]
	return id, ok
}

// Len returns the number of distinct labels.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Names returns the label names in id order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a copy of the registry rows in id order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}
