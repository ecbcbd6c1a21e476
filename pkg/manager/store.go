package manager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"kubeportal/pkg/forward"
)

// configDocument is the on-disk JSON shape: an outer map keyed by name. If
// the outer key differs from the inner "name" field, the outer key wins --
// the loader rewrites Name to match it.
type configDocument struct {
	Forwards map[string]forward.Definition `json:"forwards"`
}

// store persists the registry to a single JSON file with an atomic-ish
// write: write to a temp file in the same directory, then rename over the
// target, so readers never observe a half-written file. Persistence can be
// disabled for tests that don't want filesystem side effects.
type store struct {
	path    string
	enabled bool
}

func newStore(path string, enabled bool) *store {
	return &store{path: path, enabled: enabled}
}

// Load reads definitions from disk. A missing file is not an error; a
// parse failure is logged by the caller and treated as an empty registry.
func (s *store) Load() (map[string]forward.Definition, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]forward.Definition{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfigIO, s.path, err)
	}

	var doc configDocument

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfigIO, s.path, err)
	}

	definitions := make(map[string]forward.Definition, len(doc.Forwards))

	for key, def := range doc.Forwards {
		def.Name = key
		definitions[key] = def
	}

	return definitions, nil
}

// Save writes the full registry to disk atomically, returning the exact
// bytes written so the caller can tell the config watcher to ignore the
// resulting filesystem event. A no-op (nil, nil) when persistence is
// disabled (test mode).
func (s *store) Save(definitions map[string]forward.Definition) ([]byte, error) {
	if !s.enabled {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating config directory: %v", ErrConfigIO, err)
	}

	doc := configDocument{Forwards: definitions}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling config: %v", ErrConfigIO, err)
	}

	tmp := s.path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", ErrConfigIO, tmp, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return nil, fmt.Errorf("%w: renaming %s to %s: %v", ErrConfigIO, tmp, s.path, err)
	}

	return data, nil
}
