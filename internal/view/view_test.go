package view

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobrace/controller/internal/node"
)

func TestUnbootedIsNotBooted(t *testing.T) {
	assert.False(t, Unbooted.IsBooted())
	assert.Nil(t, Unbooted.OrderedTargets())
}

func TestOrderedTargetsMasterFirst(t *testing.T) {
	master := node.NewRef("10.0.0.1:9000")
	alt1 := node.NewRef("10.0.0.2:9000")
	alt2 := node.NewRef("10.0.0.3:9000")
	v := View{DeploymentID: uuid.New(), Master: master, Alts: []node.Ref{alt1, alt2}, FailoverFactor: 2}

	targets := v.OrderedTargets()
	require.Len(t, targets, 3)
	assert.Equal(t, master, targets[0])
	assert.Equal(t, alt1, targets[1])
	assert.Equal(t, alt2, targets[2])
}

func TestValidateRejectsMasterInAlts(t *testing.T) {
	master := node.NewRef("10.0.0.1:9000")
	v := View{DeploymentID: uuid.New(), Master: master, Alts: []node.Ref{master}, FailoverFactor: 1}
	assert.Error(t, v.Validate())
}

func TestValidateRejectsDuplicateAlts(t *testing.T) {
	master := node.NewRef("10.0.0.1:9000")
	alt := node.NewRef("10.0.0.2:9000")
	v := View{DeploymentID: uuid.New(), Master: master, Alts: []node.Ref{alt, alt}, FailoverFactor: 2}
	assert.Error(t, v.Validate())
}

func TestValidateRejectsAltsExceedingFailoverFactor(t *testing.T) {
	master := node.NewRef("10.0.0.1:9000")
	alt1 := node.NewRef("10.0.0.2:9000")
	alt2 := node.NewRef("10.0.0.3:9000")
	v := View{DeploymentID: uuid.New(), Master: master, Alts: []node.Ref{alt1, alt2}, FailoverFactor: 1}
	assert.Error(t, v.Validate())
}

func TestValidateRejectsAltsWithZeroReplicationFactor(t *testing.T) {
	master := node.NewRef("10.0.0.1:9000")
	alt := node.NewRef("10.0.0.2:9000")
	v := View{DeploymentID: uuid.New(), Master: master, Alts: []node.Ref{alt}, FailoverFactor: 1, ReplicationFactor: 0}
	assert.Error(t, v.Validate())
}

func TestWithMembershipTruncatesToFailoverFactor(t *testing.T) {
	v := View{DeploymentID: uuid.New(), FailoverFactor: 1}
	n0 := node.NewRef("a:1")
	n1 := node.NewRef("b:1")
	n2 := node.NewRef("c:1")

	v2 := v.WithMembership([]node.Ref{n0, n1, n2})
	assert.Equal(t, n0, v2.Master)
	require.Len(t, v2.Alts, 1)
	assert.Equal(t, n1, v2.Alts[0])
}

func TestShutdownOnlyResetsDeploymentID(t *testing.T) {
	master := node.NewRef("10.0.0.1:9000")
	worker := node.NewRef("10.0.0.9:9000")
	v := View{DeploymentID: uuid.New(), Master: master, Workers: []node.Ref{worker}, ReplicationFactor: 2, FailoverFactor: 1}

	shut := v.Shutdown()
	assert.False(t, shut.IsBooted())
	assert.Equal(t, master, shut.Master)
	assert.Equal(t, []node.Ref{worker}, shut.Workers)
}

func TestCandidatesForMasterFiltersByPermission(t *testing.T) {
	withPerm := node.Info{Ref: node.NewRef("a:1"), Permissions: map[node.Permission]bool{node.PermMaster: true}}
	withoutPerm := node.Info{Ref: node.NewRef("b:1"), Permissions: map[node.Permission]bool{node.PermWorker: true}}

	out := CandidatesForMaster([]node.Info{withPerm, withoutPerm})
	require.Len(t, out, 1)
	assert.Equal(t, withPerm.Ref, out[0].Ref)
}
