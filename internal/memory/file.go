package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileExt = ".json"

// FileBackend keeps one JSON file per slot in a directory
type FileBackend struct {
	dir  string
	lock sync.RWMutex
}

// NewFileBackend creates a file backend rooted at dir
func NewFileBackend(dir string) (*FileBackend, error) {
	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (fb *FileBackend) path(slot string) (string, error) {
	if slot == "" || slot != filepath.Base(slot) || strings.HasPrefix(slot, ".") {
		return "", fmt.Errorf("invalid memory slot %q", slot)
	}
	return filepath.Join(fb.dir, slot+fileExt), nil
}

// Get reads the slot file
func (fb *FileBackend) Get(ctx context.Context, slot string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := fb.path(slot)
	if err != nil {
		return nil, err
	}

	fb.lock.RLock()
	defer fb.lock.RUnlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memory file: %w", err)
	}
	return data, nil
}

// Put writes the slot file through a temp file so readers never see a partial record
func (fb *FileBackend) Put(ctx context.Context, slot string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fb.path(slot)
	if err != nil {
		return err
	}

	fb.lock.Lock()
	defer fb.lock.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write memory file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace memory file: %w", err)
	}
	return nil
}

// Delete removes the slot file
func (fb *FileBackend) Delete(ctx context.Context, slot string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fb.path(slot)
	if err != nil {
		return err
	}

	fb.lock.Lock()
	defer fb.lock.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove memory file: %w", err)
	}
	return nil
}

// Keys lists stored slots in lexical order
func (fb *FileBackend) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fb.lock.RLock()
	defer fb.lock.RUnlock()

	entries, err := os.ReadDir(fb.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory dir: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for files
func (fb *FileBackend) Close() error {
	return nil
}
