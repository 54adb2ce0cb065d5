// Package file persists mutations and graphs as JSON documents on the local filesystem.
//
// Layout under the base path:
//
//	mutations/<id>.json
//	graphs/<id>.json
//	cross-edges.json
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

var _ ports.MutationStore = (*Store)(nil)

// DefaultPath is used when New receives an empty base path.
var DefaultPath = filepath.Join(".lattice", "data")

// Store implements ports.MutationStore using one JSON file per mutation.
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to DefaultPath.
func New(basePath string) *Store {
	if basePath == "" {
		basePath = DefaultPath
	}
	return &Store{BasePath: basePath}
}

func (s *Store) dir() string {
	return filepath.Join(s.BasePath, "mutations")
}

// Save persists the mutation record atomically.
func (s *Store) Save(ctx context.Context, m domain.Mutation) error {
	if err := checkID("id", m.ID); err != nil {
		return err
	}
	if err := writeJSON(s.dir(), m.ID, m); err != nil {
		return fmt.Errorf("failed to save mutation %s: %w", m.ID, err)
	}
	return nil
}

// Load retrieves the mutation record from its JSON file.
func (s *Store) Load(ctx context.Context, id string) (*domain.Mutation, error) {
	if err := checkID("id", id); err != nil {
		return nil, err
	}
	var m domain.Mutation
	if err := readJSON(filepath.Join(s.dir(), id+".json"), &m); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NotFound("mutation", id)
		}
		return nil, fmt.Errorf("failed to load mutation %s: %w", id, err)
	}
	return &m, nil
}

// Delete removes the mutation file.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := checkID("id", id); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir(), id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete mutation file: %w", err)
	}
	return nil
}

// List returns every stored mutation ordered by timestamp, then id.
func (s *Store) List(ctx context.Context) ([]domain.Mutation, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Mutation{}, nil
		}
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}

	out := make([]domain.Mutation, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		var m domain.Mutation
		if err := readJSON(filepath.Join(s.dir(), name), &m); err != nil {
			if os.IsNotExist(err) {
				// deleted between ReadDir and ReadFile
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func checkID(field, id string) error {
	if id == "" {
		return domain.Invalid(field, "required")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return domain.Invalid(field, "must not contain path separators")
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON writes v to dir/name.json atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func writeJSON(dir, name string, v any) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}

	destPath := filepath.Join(dir, name+".json")

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	// Same directory so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-"+name+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// os.Rename fails on Windows when the destination exists.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing file for overwrite: %w", err)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
