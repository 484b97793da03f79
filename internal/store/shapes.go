// Package store persists bot state.
//
// Shapes live as JSON files, one per shape: shape_<id>.json. Writes use
// atomic file replacement (write to .tmp, then rename) so a crash mid-save
// never leaves a partial file. Everything else (settings, tiers, thresholds,
// overrides and the activity log) lives in SQLite, see sqlite.go.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"liquidity-mm/internal/shape"
	"liquidity-mm/pkg/types"
)

const shapePrefix = "shape_"

// ShapeStore persists named shapes to JSON files in a directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type ShapeStore struct {
	dir string
	mu  sync.Mutex
}

// OpenShapes creates a shape store backed by the given directory.
func OpenShapes(dir string) (*ShapeStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shape dir: %w", err)
	}
	return &ShapeStore{dir: dir}, nil
}

// Save atomically writes a shape. Points are validated first so a broken
// curve never reaches disk. Saving a default shape clears the flag on every
// other shape.
func (s *ShapeStore) Save(sh shape.Shape) error {
	if err := checkID(sh.ID); err != nil {
		return err
	}
	if err := shape.Validate(sh.Points); err != nil {
		return fmt.Errorf("save shape %q: %w", sh.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sh.IsDefault {
		if err := s.clearDefaultLocked(sh.ID); err != nil {
			return err
		}
	}
	return s.writeLocked(sh)
}

// Load returns the shape with the given id, or nil, nil if it does not exist.
func (s *ShapeStore) Load(id string) (*shape.Shape, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(s.path(id))
}

// List returns every stored shape, default first, then by name.
func (s *ShapeStore) List() ([]shape.Shape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shapes, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(shapes, func(i, j int) bool {
		if shapes[i].IsDefault != shapes[j].IsDefault {
			return shapes[i].IsDefault
		}
		return shapes[i].Name < shapes[j].Name
	})
	return shapes, nil
}

// Default returns the shape flagged default, or nil if there is none.
func (s *ShapeStore) Default() (*shape.Shape, error) {
	shapes, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(shapes) == 0 || !shapes[0].IsDefault {
		return nil, nil
	}
	return &shapes[0], nil
}

// SetDefault flags one shape as default and clears every other flag.
func (s *ShapeStore) SetDefault(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, err := s.readLocked(s.path(id))
	if err != nil {
		return err
	}
	if sh == nil {
		return fmt.Errorf("%w: no shape %q", types.ErrInvalidOperation, id)
	}
	if err := s.clearDefaultLocked(id); err != nil {
		return err
	}
	sh.IsDefault = true
	return s.writeLocked(*sh)
}

// Delete removes a shape. Deleting a missing shape is not an error.
func (s *ShapeStore) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete shape: %w", err)
	}
	return nil
}

// checkID keeps ids from escaping the shape directory.
func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: shape id %q", types.ErrInvalidInput, id)
	}
	return nil
}

func (s *ShapeStore) path(id string) string {
	return filepath.Join(s.dir, shapePrefix+id+".json")
}

func (s *ShapeStore) writeLocked(sh shape.Shape) error {
	data, err := json.MarshalIndent(sh, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal shape: %w", err)
	}

	path := s.path(sh.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write shape: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *ShapeStore) readLocked(path string) (*shape.Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read shape: %w", err)
	}

	var sh shape.Shape
	if err := json.Unmarshal(data, &sh); err != nil {
		return nil, fmt.Errorf("unmarshal shape %s: %w", filepath.Base(path), err)
	}
	return &sh, nil
}

func (s *ShapeStore) listLocked() ([]shape.Shape, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, shapePrefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("list shapes: %w", err)
	}
	shapes := make([]shape.Shape, 0, len(matches))
	for _, path := range matches {
		sh, err := s.readLocked(path)
		if err != nil {
			return nil, err
		}
		if sh != nil {
			shapes = append(shapes, *sh)
		}
	}
	return shapes, nil
}

func (s *ShapeStore) clearDefaultLocked(keep string) error {
	shapes, err := s.listLocked()
	if err != nil {
		return err
	}
	for _, sh := range shapes {
		if sh.IsDefault && sh.ID != keep {
			sh.IsDefault = false
			if err := s.writeLocked(sh); err != nil {
				return err
			}
		}
	}
	return nil
}
