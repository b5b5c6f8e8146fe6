package store

import (
	"context"
	"os"
	"path/filepath"
)

// LocalStore activates a subdirectory of Root as a store. Root is chosen by
// the caller; cmd/gobracectl uses the OS temp directory, not the
// controller's working directory.
type LocalStore struct {
	Root string
}

// NewLocalStore builds a LocalStore rooted at root.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (l *LocalStore) Name() string { return "local" }

// Activate ensures desc.Endpoint exists as a subdirectory of Root and
// returns its absolute path as Location.
func (l *LocalStore) Activate(_ context.Context, desc Descriptor) (Info, error) {
	dir := desc.Endpoint
	if dir == "" {
		dir = "default"
	}
	path := filepath.Join(l.Root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Info{}, err
	}
	return Info{ID: desc.ID(), Provider: l.Name(), Location: path}, nil
}
