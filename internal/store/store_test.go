package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreActivateCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	l := NewLocalStore(root)

	info, err := l.Activate(context.Background(), Descriptor{Provider: "local", Endpoint: "mystore"})
	require.NoError(t, err)
	assert.Equal(t, "local", info.Provider)
	assert.Equal(t, filepath.Join(root, "mystore"), info.Location)
}

func TestLocalStoreActivateDefaultsEndpoint(t *testing.T) {
	root := t.TempDir()
	l := NewLocalStore(root)

	info, err := l.Activate(context.Background(), Descriptor{Provider: "local"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "default"), info.Location)
}

func TestRegistryActivateRegistersInfoForLookup(t *testing.T) {
	root := t.TempDir()
	r := NewRegistry(NewLocalStore(root))

	desc := Descriptor{Provider: "local", Endpoint: "a"}
	info, err := r.Activate(desc)
	require.NoError(t, err)

	got, ok := r.TryGetStoreInfo(desc.ID())
	require.True(t, ok)
	assert.Equal(t, info, got)
}

func TestRegistryActivateFailsForUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Activate(Descriptor{Provider: "nope"})
	require.Error(t, err)
}

func TestRegistryTryGetStoreInfoMissesWhenNotActivated(t *testing.T) {
	r := NewRegistry(NewLocalStore(t.TempDir()))
	_, ok := r.TryGetStoreInfo("local:never-activated")
	assert.False(t, ok)
}

func TestDescriptorIDCombinesProviderAndEndpoint(t *testing.T) {
	d := Descriptor{Provider: "s3", Endpoint: "my-bucket"}
	assert.Equal(t, "s3:my-bucket", d.ID())
}
