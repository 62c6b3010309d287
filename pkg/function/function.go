// Package function describes the functions declared by the app and keeps
// the current snapshot of them.
package function

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
)

// ManifestPath is where the app build writes its function list, relative to
// the app directory.
const ManifestPath = ".build/functions.json"

// Descriptor is a single declared function. Descriptors are immutable once
// loaded.
type Descriptor struct {
	ID      string `json:"id"`
	Runtime string `json:"runtime"`
	// SrcPath is the function's source directory, relative to Root.
	SrcPath string `json:"srcPath"`
	// Handler is the entrypoint, eg. "src/api.handler".
	Handler string         `json:"handler"`
	Root    string         `json:"root"`
	Bundle  map[string]any `json:"bundle,omitempty"`
}

func (d Descriptor) Validate() error {
	if d.ID == "" {
		return errors.New("function id is required")
	}
	if d.Runtime == "" {
		return fmt.Errorf("function %q has no runtime", d.ID)
	}
	if d.Handler == "" {
		return fmt.Errorf("function %q has no handler", d.ID)
	}
	return nil
}

// Registry holds the latest snapshot of descriptors. Readers never block
// writers; Reload swaps the snapshot atomically.
type Registry struct {
	path string
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	byID map[string]Descriptor
	all  []Descriptor
}

// NewRegistry returns a registry reading the manifest of the given app
// directory. The registry is empty until Reload is called.
func NewRegistry(appDir string) *Registry {
	r := &Registry{path: filepath.Join(appDir, ManifestPath)}
	r.snap.Store(&snapshot{byID: map[string]Descriptor{}})
	return r
}

// NewStaticRegistry returns a registry holding fixed descriptors.
func NewStaticRegistry(fns ...Descriptor) (*Registry, error) {
	r := &Registry{}
	if err := r.Set(fns); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the manifest and replaces the snapshot. A missing manifest
// yields an empty registry. Reload is a no-op for static registries.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	byt, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return r.Set(nil)
	}
	if err != nil {
		return fmt.Errorf("error reading function manifest: %w", err)
	}

	var fns []Descriptor
	if err := json.Unmarshal(byt, &fns); err != nil {
		return fmt.Errorf("error parsing function manifest %s: %w", r.path, err)
	}
	return r.Set(fns)
}

// Set validates fns and installs them as the new snapshot.
func (r *Registry) Set(fns []Descriptor) error {
	s := &snapshot{byID: make(map[string]Descriptor, len(fns))}
	for _, fn := range fns {
		if err := fn.Validate(); err != nil {
			return err
		}
		if _, ok := s.byID[fn.ID]; ok {
			return fmt.Errorf("duplicate function id %q", fn.ID)
		}
		s.byID[fn.ID] = fn
		s.all = append(s.all, fn)
	}
	sort.Slice(s.all, func(i, j int) bool { return s.all[i].ID < s.all[j].ID })
	r.snap.Store(s)
	return nil
}

func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.snap.Load().byID[id]
	return d, ok
}

// All returns the descriptors sorted by id.
func (r *Registry) All() []Descriptor {
	all := r.snap.Load().all
	out := make([]Descriptor, len(all))
	copy(out, all)
	return out
}
