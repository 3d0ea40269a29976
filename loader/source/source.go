// Package source stores the raw bytes of uploaded documents until they are
// extracted.
package source

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

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type Reader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

type Store interface {
	Reader
	// Save stores data for the tenant and returns the key to read it back.
	Save(ctx context.Context, tenantID, fileName string, data []byte) (string, error)
	Remove(ctx context.Context, key string) error
}

// FileStore keeps uploads under root/<tenant>/<uuid>-<name>.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("error creating uploads directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid source key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileStore) Save(ctx context.Context, tenantID, fileName string, data []byte) (string, error) {
	key := filepath.ToSlash(filepath.Join(safeName(tenantID), uuid.NewString()+"-"+safeName(fileName)))
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", err
	}
	return key, nil
}

func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("source %s: %w", key, types.ErrNotFound)
	}
	return data, err
}

func (s *FileStore) Remove(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func safeName(name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "/" || name == "." {
		return "file"
	}
	return name
}

type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, tenantID, fileName string, data []byte) (string, error) {
	key := tenantID + "/" + uuid.NewString() + "-" + safeName(fileName)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = append([]byte(nil), data...)
	return key, nil
}

// Put stores data under an explicit key.
func (s *MemoryStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = append([]byte(nil), data...)
}

func (s *MemoryStore) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", key, types.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}
