// Package node defines the addressable handle to a remote cluster member
// and the Transport capability used to talk to it. It is the lowest layer
// of the controller: everything above treats a NodeRef as an opaque,
// comparable value and never reaches past Transport to the wire.
package node

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the function a node currently serves in the cluster.
type Role int

const (
	// Idle means the node is known but not currently serving any role.
	Idle Role = iota
	Master
	AltMaster
	Worker
)

func (r Role) String() string {
	switch r {
	case Master:
		return "Master"
	case AltMaster:
		return "AltMaster"
	case Worker:
		return "Worker"
	default:
		return "Idle"
	}
}

// Permission is a capability a node is willing to take on.
type Permission int

const (
	PermMaster Permission = iota
	PermWorker
)

// Ref is an opaque, comparable handle identifying a remote node: a logical
// id plus the transport address it is currently reachable at. Two Refs
// with the same ID are the same node even if Addr differs across reboots;
// comparisons in this package use the whole value, matching spec.md's
// "comparable handle" requirement for a freshly-booted cluster where the
// address is also stable.
type Ref struct {
	ID   uuid.UUID
	Addr string
}

// NewRef mints a Ref with a fresh id for a node reachable at addr.
func NewRef(addr string) Ref {
	return Ref{ID: uuid.New(), Addr: addr}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@%s", r.ID, r.Addr)
}

// IsZero reports whether r is the zero value (no node).
func (r Ref) IsZero() bool {
	return r.ID == uuid.Nil && r.Addr == ""
}

// Info describes what a Ref currently is within the cluster, as reported
// by a GetAllNodes/GetClusterDeploymentInfo reply.
type Info struct {
	Ref         Ref
	Role        Role
	Permissions map[Permission]bool
	IsLocal     bool
	URI         string
}

// HasPermission reports whether the node is willing to take on p.
func (i Info) HasPermission(p Permission) bool {
	return i.Permissions[p]
}
