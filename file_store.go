package feesaga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore provides a file-based implementation of Store that persists
// saga journals as JSON files on disk.
type FileStore[T any] struct {
	basePath string
	mu       sync.Mutex
}

// NewFileStore creates a new file-based store that saves saga state
// to the specified directory.
func NewFileStore[T any](basePath string) (*FileStore[T], error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore[T]{
		basePath: basePath,
	}, nil
}

// Save persists the saga state to a JSON file. The file is written to a
// temporary name first and renamed into place.
func (f *FileStore[T]) Save(ctx context.Context, sagaID string, state State[T]) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	filename := f.filename(sagaID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to move state file into place: %w", err)
	}

	return nil
}

// Load retrieves the saga state from a JSON file.
func (f *FileStore[T]) Load(ctx context.Context, sagaID string) (*State[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filename(sagaID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("saga %s: %w", sagaID, ErrStateNotFound)
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State[T]
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// Delete removes the saga state file.
func (f *FileStore[T]) Delete(ctx context.Context, sagaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(sagaID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// List returns the IDs of all journals in the store, sorted.
func (f *FileStore[T]) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list state directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Not written by this store.
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// filename returns the full path for a saga's state file. The saga ID is
// path-escaped, so distinct IDs never share a file and separators in an ID
// cannot leave basePath.
func (f *FileStore[T]) filename(sagaID string) string {
	return filepath.Join(f.basePath, url.PathEscape(sagaID)+".json")
}
