// Package packager implements ComputationPackager (spec.md §4.H): turning a
// user-supplied computation value into a serializable ComputationImage,
// computing its dependency manifest's content hashes, and assigning a
// stable content-addressed name when the caller didn't supply one. Content
// hashing follows the teacher's own fixed-width hex-encoded identifier
// style in auth_token.go (sha256, then truncate and hex-encode).
package packager

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/gobrace/controller/internal/clustererr"
)

// Dependency is one entry of a ComputationImage's dependency manifest.
type Dependency struct {
	AssemblyID string
	Size       int64
	Hash       string
}

// Image is the immutable, serializable unit submitted to CreateProcess.
type Image struct {
	ClientID      uuid.UUID
	Name          string
	Payload       []byte
	ReturnTypeTag string
	Dependencies  []Dependency
}

// Diagnostic is one warning or error surfaced by Package.
type Diagnostic struct {
	Message string
}

// Input is the raw material Package turns into an Image. Payload is the
// already-serialized computation body (serialization of the user value
// itself is out of scope, per spec.md §1); Assets are the dependency blobs
// discovered for it.
type Input struct {
	ClientID      uuid.UUID
	Name          string
	Payload       []byte
	ReturnTypeTag string
	Assets        []Asset
}

// Asset is one dependency blob prior to content-hashing.
type Asset struct {
	AssemblyID string
	Data       []byte
}

// Packager implements ComputationPackager.
type Packager struct{}

// New builds a Packager. It is stateless; a zero value works.
func New() *Packager { return &Packager{} }

// Package builds an Image from in, content-hashing every asset and
// assigning a stable name when in.Name is empty. It returns accumulated
// warnings alongside the image; a non-empty errs list fails with
// CompilationError carrying the joined messages.
func (p *Packager) Package(in Input) (Image, []Diagnostic, error) {
	var warnings []Diagnostic
	var errs []string

	if len(in.Payload) == 0 {
		errs = append(errs, "computation payload is empty")
	}
	if in.ReturnTypeTag == "" {
		warnings = append(warnings, Diagnostic{Message: "no return type tag supplied; result will be returned untyped"})
	}

	deps := make([]Dependency, 0, len(in.Assets))
	seen := make(map[string]bool, len(in.Assets))
	for _, a := range in.Assets {
		if a.AssemblyID == "" {
			errs = append(errs, "dependency asset missing an assembly id")
			continue
		}
		if seen[a.AssemblyID] {
			warnings = append(warnings, Diagnostic{Message: "duplicate dependency " + a.AssemblyID + " ignored"})
			continue
		}
		seen[a.AssemblyID] = true
		deps = append(deps, Dependency{
			AssemblyID: a.AssemblyID,
			Size:       int64(len(a.Data)),
			Hash:       contentHash(a.Data),
		})
	}

	if len(errs) > 0 {
		return Image{}, warnings, clustererr.New(clustererr.CompilationError, strings.Join(errs, "; "))
	}

	name := in.Name
	if name == "" {
		name = contentAddressedName(in.Payload)
	}

	return Image{
		ClientID:      in.ClientID,
		Name:          name,
		Payload:       in.Payload,
		ReturnTypeTag: in.ReturnTypeTag,
		Dependencies:  deps,
	}, warnings, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// contentAddressedName assigns the stable "img-<hex8>" name described in
// SPEC_FULL.md §4.H.
func contentAddressedName(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "img-" + hex.EncodeToString(sum[:8])
}
