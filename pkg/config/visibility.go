package config

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
)

// Visibility is the set of tool names exposed to external callers.
// Tools absent from the set stay internally known so re-enabling them is
// cheap and needs no rediscovery.
//
// A nil Visibility means no filter was ever configured and every tool is
// visible. An empty non-nil set hides everything.
type Visibility struct {
	enabled map[string]struct{}
}

// NewVisibility creates a visibility set from the given enabled tool names.
func NewVisibility(enabled []string) *Visibility {
	v := &Visibility{enabled: make(map[string]struct{}, len(enabled))}
	for _, name := range enabled {
		v.enabled[name] = struct{}{}
	}
	return v
}

// IsEnabled reports whether the named tool is visible to callers.
func (v *Visibility) IsEnabled(name string) bool {
	if v == nil {
		return true
	}
	_, ok := v.enabled[name]
	return ok
}

// Enabled returns the sorted list of enabled tool names.
func (v *Visibility) Enabled() []string {
	if v == nil {
		return nil
	}
	names := make([]string, 0, len(v.enabled))
	for name := range v.enabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VisibilityStore persists the visibility set between hub runs.
type VisibilityStore interface {
	// Load reads the persisted visibility set. A missing store yields nil
	// (no filter), not an error.
	Load() (*Visibility, error)

	// Save persists the visibility set.
	Save(v *Visibility) error
}

// visibilityFile is the on-disk JSON representation.
type visibilityFile struct {
	Enabled []string `json:"enabled"`
}

// FileVisibilityStore persists the visibility set as a JSON file.
type FileVisibilityStore struct {
	path string
}

// NewFileVisibilityStore creates a store backed by the given path.
func NewFileVisibilityStore(path string) *FileVisibilityStore {
	return &FileVisibilityStore{path: path}
}

// Load implements VisibilityStore.
func (s *FileVisibilityStore) Load() (*Visibility, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewConfigError("reading visibility file", err)
	}

	var file visibilityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.NewConfigError("parsing visibility file", err)
	}
	return NewVisibility(file.Enabled), nil
}

// Save implements VisibilityStore.
func (s *FileVisibilityStore) Save(v *Visibility) error {
	data, err := json.MarshalIndent(visibilityFile{Enabled: v.Enabled()}, "", "  ")
	if err != nil {
		return errors.NewConfigError("encoding visibility file", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return errors.NewConfigError("writing visibility file", err)
	}
	return nil
}
