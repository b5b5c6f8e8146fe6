// Package view implements ClusterView, the immutable cluster-membership
// snapshot owned by the RuntimeProxy and handed out by value through its
// LastView query. Nothing in this package mutates in place: every state
// change is a wholesale replacement, per spec.md §3.
package view

import (
	"github.com/google/uuid"

	"github.com/gobrace/controller/internal/node"
)

// View is the immutable snapshot described in spec.md §3. The zero value
// (DeploymentID == uuid.Nil) is the "unbooted" sentinel: only membership
// operations are valid against it.
type View struct {
	DeploymentID      uuid.UUID
	Master            node.Ref
	Alts              []node.Ref
	Workers           []node.Ref
	ReplicationFactor int
	FailoverFactor    int
	StoreID           string
}

// Unbooted is the zero View.
var Unbooted = View{}

// IsBooted reports whether the cluster has an active deployment.
func (v View) IsBooted() bool {
	return v.DeploymentID != uuid.Nil
}

// HasFailover reports whether any alternate masters are configured.
func (v View) HasFailover() bool {
	return len(v.Alts) > 0
}

// OrderedTargets returns master first, then alts in declaration order, the
// exact sequence the FailoverDispatcher tries (spec.md §4.C step 1).
func (v View) OrderedTargets() []node.Ref {
	if !v.IsBooted() {
		return nil
	}
	targets := make([]node.Ref, 0, 1+len(v.Alts))
	targets = append(targets, v.Master)
	targets = append(targets, v.Alts...)
	return targets
}

// CandidatesForMaster returns the subset of infos, in the given order,
// whose permissions include Master.
func CandidatesForMaster(infos []node.Info) []node.Info {
	var out []node.Info
	for _, i := range infos {
		if i.HasPermission(node.PermMaster) {
			out = append(out, i)
		}
	}
	return out
}

// Validate checks the invariants from spec.md §3. Only tests call it; the
// proxy and lifecycle code install views without validating them.
func (v View) Validate() error {
	if len(v.Alts) > v.FailoverFactor {
		return errInvariant("alts longer than failoverFactor")
	}
	if v.ReplicationFactor == 0 && len(v.Alts) != 0 {
		return errInvariant("replicationFactor is 0 but alts is non-empty")
	}
	seen := map[node.Ref]bool{v.Master: true}
	if v.IsBooted() {
		for _, a := range v.Alts {
			if a == v.Master {
				return errInvariant("master present in alts")
			}
			if seen[a] {
				return errInvariant("duplicate alt")
			}
			seen[a] = true
		}
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return "invalid ClusterView: " + string(e) }

func errInvariant(msg string) error { return invariantError(msg) }

// WithWorkers returns a copy of v with Workers replaced, leaving v itself
// untouched (copy-on-write, per spec.md §5).
func (v View) WithWorkers(workers []node.Ref) View {
	v2 := v
	v2.Workers = append([]node.Ref(nil), workers...)
	return v2
}

// WithMembership returns a copy of v with Master/Alts replaced from an
// ordered node list (master first, as returned by GetAllNodes), truncating
// alts to FailoverFactor. Used to install canonical membership after a
// MasterBoot and after a dispatcher reprobe.
func (v View) WithMembership(nodes []node.Ref) View {
	if len(nodes) == 0 {
		return v
	}
	v2 := v
	v2.Master = nodes[0]
	end := 1 + v.FailoverFactor
	if end > len(nodes) {
		end = len(nodes)
	}
	v2.Alts = append([]node.Ref(nil), nodes[1:end]...)
	return v2
}

// Shutdown returns the post-shutdown view: only deploymentId resets to
// zero. Master/Alts/Workers/factors/storeId survive so BootInPlace can
// reuse the last-known node list, per spec.md §8 "Shutdown is the only
// operation that resets deploymentId to zero" and §9's BootInPlace
// resolution.
func (v View) Shutdown() View {
	v2 := v
	v2.DeploymentID = uuid.Nil
	return v2
}
