package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// StaticProfileIDSource returns a fixed profile id.
type StaticProfileIDSource struct {
	ID uuid.UUID
}

func (s *StaticProfileIDSource) ProfileID(context.Context) (uuid.UUID, error) {
	return s.ID, nil
}

// FileProfileIDSource keeps the profile id in a file, creating a random one
// on first use.
type FileProfileIDSource struct {
	Path string

	mu sync.Mutex
	id uuid.UUID
}

// NewFileProfileIDSource creates a source backed by path.
func NewFileProfileIDSource(path string) *FileProfileIDSource {
	return &FileProfileIDSource{Path: path}
}

func (f *FileProfileIDSource) ProfileID(context.Context) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.id != uuid.Nil {
		return f.id, nil
	}

	data, err := os.ReadFile(f.Path)
	switch {
	case err == nil:
		id, err := uuid.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			return uuid.Nil, fmt.Errorf("parsing profile id in %s: %w", f.Path, err)
		}
		f.id = id
		return id, nil
	case errors.Is(err, fs.ErrNotExist):
		id := uuid.New()
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
			return uuid.Nil, fmt.Errorf("creating profile directory: %w", err)
		}
		if err := os.WriteFile(f.Path, []byte(id.String()+"\n"), 0o600); err != nil {
			return uuid.Nil, fmt.Errorf("writing profile id: %w", err)
		}
		f.id = id
		return id, nil
	default:
		return uuid.Nil, fmt.Errorf("reading profile id: %w", err)
	}
}
