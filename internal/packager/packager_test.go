package packager

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobrace/controller/internal/clustererr"
)

func TestPackageAssignsContentAddressedNameWhenNotGiven(t *testing.T) {
	p := New()
	payload := []byte("hello computation")
	img, _, err := p.Package(Input{ClientID: uuid.New(), Payload: payload})
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	want := "img-" + hex.EncodeToString(sum[:8])
	assert.Equal(t, want, img.Name)
}

func TestPackageKeepsSuppliedName(t *testing.T) {
	p := New()
	img, _, err := p.Package(Input{ClientID: uuid.New(), Name: "my-job", Payload: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "my-job", img.Name)
}

func TestPackageWarnsWhenReturnTypeTagMissing(t *testing.T) {
	p := New()
	_, warnings, err := p.Package(Input{ClientID: uuid.New(), Payload: []byte("x")})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "return type tag")
}

func TestPackageFailsCompilationErrorOnEmptyPayload(t *testing.T) {
	p := New()
	_, _, err := p.Package(Input{ClientID: uuid.New()})
	require.Error(t, err)
	assert.True(t, clustererr.Is(err, clustererr.CompilationError))
}

func TestPackageComputesPerAssetContentHash(t *testing.T) {
	p := New()
	data := []byte("dependency bytes")
	img, _, err := p.Package(Input{
		ClientID: uuid.New(),
		Payload:  []byte("x"),
		Assets:   []Asset{{AssemblyID: "libfoo", Data: data}},
	})
	require.NoError(t, err)
	require.Len(t, img.Dependencies, 1)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), img.Dependencies[0].Hash)
	assert.Equal(t, int64(len(data)), img.Dependencies[0].Size)
}

func TestPackageDedupesDuplicateAssemblyIDs(t *testing.T) {
	p := New()
	img, warnings, err := p.Package(Input{
		ClientID:      uuid.New(),
		Payload:       []byte("x"),
		ReturnTypeTag: "string",
		Assets: []Asset{
			{AssemblyID: "libfoo", Data: []byte("a")},
			{AssemblyID: "libfoo", Data: []byte("b")},
		},
	})
	require.NoError(t, err)
	require.Len(t, img.Dependencies, 1)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "duplicate dependency")
}

func TestPackageFailsCompilationErrorOnMissingAssemblyID(t *testing.T) {
	p := New()
	_, _, err := p.Package(Input{
		ClientID: uuid.New(),
		Payload:  []byte("x"),
		Assets:   []Asset{{Data: []byte("a")}},
	})
	require.Error(t, err)
	assert.True(t, clustererr.Is(err, clustererr.CompilationError))
}
