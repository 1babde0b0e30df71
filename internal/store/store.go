// Package store persists service records as one JSON file per service
// under the state directory. Records are plain, human-inspectable JSON;
// there is no locking beyond filesystem atomicity because the tool
// assumes a single operator on a single host.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/foundation-sh/foundation/internal/service"
)

// ErrNotFound is returned for operations on unregistered service names.
var ErrNotFound = errors.New("service not found")

// Store keeps service records under <dir>/services and git clones
// under <dir>/src.
type Store struct {
	dir string
}

// Open prepares the state directory layout and returns a store handle.
func Open(stateDir string) (*Store, error) {
	s := &Store{dir: stateDir}
	if err := os.MkdirAll(s.servicesDir(), 0o750); err != nil {
		return nil, fmt.Errorf("create services directory: %w", err)
	}
	if err := os.MkdirAll(s.srcDir(), 0o750); err != nil {
		return nil, fmt.Errorf("create src directory: %w", err)
	}
	return s, nil
}

func (s *Store) servicesDir() string { return filepath.Join(s.dir, "services") }
func (s *Store) srcDir() string      { return filepath.Join(s.dir, "src") }

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.servicesDir(), name+".json")
}

// SourceDir is where the git clone for a service lives.
func (s *Store) SourceDir(name string) string {
	return filepath.Join(s.srcDir(), name)
}

// Put inserts or overwrites the record for spec.Name. CreatedAt is
// preserved across overwrites so List keeps its creation order.
func (s *Store) Put(spec *service.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if prev, err := s.Get(spec.Name); err == nil {
		spec.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal service record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(spec.Name), data, 0o644); err != nil {
		return fmt.Errorf("write service record: %w", err)
	}
	return nil
}

// Get loads one record by name.
func (s *Store) Get(name string) (*service.Spec, error) {
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read service record: %w", err)
	}
	var spec service.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse service record %s: %w", name, err)
	}
	return &spec, nil
}

// List returns all records ordered by creation time.
func (s *Store) List() ([]*service.Spec, error) {
	entries, err := os.ReadDir(s.servicesDir())
	if err != nil {
		return nil, fmt.Errorf("read services directory: %w", err)
	}
	var specs []*service.Spec
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		spec, err := s.Get(e.Name()[:len(e.Name())-len(".json")])
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		if !specs[i].CreatedAt.Equal(specs[j].CreatedAt) {
			return specs[i].CreatedAt.Before(specs[j].CreatedAt)
		}
		return specs[i].Name < specs[j].Name
	})
	return specs, nil
}

// Remove deletes the record and any local clone for the service.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.recordPath(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("remove service record: %w", err)
	}
	if err := os.RemoveAll(s.SourceDir(name)); err != nil {
		return fmt.Errorf("remove service source tree: %w", err)
	}
	return nil
}
