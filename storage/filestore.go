package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/iturovskiy/blockmesh/core"
)

// HeadFile is the name of the node-state record inside a mesh directory.
const HeadFile = "HEAD"

// FileStore implements core.BlockStore as a directory holding one file per
// block, filename = content address, plus a HEAD file with the node state.
// Block writes are idempotent: rewriting a content-addressed file produces
// identical bytes.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %q: %w", abs, err)
	}
	return &FileStore{dir: abs}, nil
}

// Dir returns the absolute directory path.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) PutBlock(hash string, b *core.Block) error {
	data, err := b.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, hash), data, 0o644)
}

func (s *FileStore) GetBlock(hash string) (*core.Block, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return core.DecodeBlock(data)
}

func (s *FileStore) PutHead(data []byte) error {
	return os.WriteFile(filepath.Join(s.dir, HeadFile), data, 0o644)
}

func (s *FileStore) GetHead() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, HeadFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Close() error { return nil }
