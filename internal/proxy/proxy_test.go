package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/dispatch"
	"github.com/gobrace/controller/internal/node"
	"github.com/gobrace/controller/internal/rpcmsg"
	"github.com/gobrace/controller/internal/view"
)

type scriptedTransport struct {
	requestFn func(ctx context.Context, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error)
}

func (s *scriptedTransport) Send(ctx context.Context, m rpcmsg.Message) error { return nil }
func (s *scriptedTransport) Request(ctx context.Context, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error) {
	return s.requestFn(ctx, m, timeout)
}
func (s *scriptedTransport) Close() error { return nil }

func TestMasterBootInstallsCanonicalMembership(t *testing.T) {
	newMaster := node.NewRef("m:1")
	alt := node.NewRef("a:1")

	tr := &scriptedTransport{requestFn: func(ctx context.Context, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error) {
		switch m.(type) {
		case rpcmsg.MasterBoot:
			return rpcmsg.Reply{Value: "booted"}, nil
		case rpcmsg.GetAllNodes:
			return rpcmsg.Reply{Value: []rpcmsg.BootNode{
				{ID: newMaster.ID, Addr: newMaster.Addr},
				{ID: alt.ID, Addr: alt.Addr},
			}}, nil
		default:
			t.Fatalf("unexpected message %T", m)
			return rpcmsg.Reply{}, nil
		}
	}}

	d := dispatch.New(func(node.Ref) node.Transport { return tr }, 100*time.Millisecond, nil)

	msg := rpcmsg.MasterBoot{
		Envelope:          rpcmsg.Envelope{ClientID: uuid.New(), RequestID: uuid.New()},
		Nodes:             []rpcmsg.BootNode{{ID: newMaster.ID, Addr: newMaster.Addr}},
		ReplicationFactor: 1,
		FailoverFactor:    1,
	}
	// MasterBoot addresses msg.Nodes directly, not the actor's current view,
	// so this starts from a genuinely fresh, unbooted proxy.
	p := New(d, view.Unbooted, nil)
	defer p.Terminate()

	reply, err := p.MasterBootRequest(context.Background(), msg, func(view.View) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, "booted", reply.Value)

	lv, err := p.LastView(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newMaster, lv.Master)
	require.Len(t, lv.Alts, 1)
	assert.Equal(t, alt, lv.Alts[0])
}

func TestMasterBootRejectsWhenNoCandidate(t *testing.T) {
	d := dispatch.New(func(node.Ref) node.Transport { return nil }, 100*time.Millisecond, nil)
	p := New(d, view.Unbooted, nil)
	defer p.Terminate()

	_, err := p.MasterBootRequest(context.Background(), rpcmsg.MasterBoot{}, func(view.View) bool { return false })
	require.Error(t, err)
	assert.True(t, clustererr.Is(err, clustererr.NoEligibleMaster))
}

func TestShutdownRequestResetsOnlyDeploymentID(t *testing.T) {
	master := node.NewRef("m:1")
	worker := node.NewRef("w:1")
	tr := &scriptedTransport{requestFn: func(ctx context.Context, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error) {
		return rpcmsg.Reply{Value: "ack"}, nil
	}}
	d := dispatch.New(func(node.Ref) node.Transport { return tr }, 100*time.Millisecond, nil)
	initial := view.View{DeploymentID: uuid.New(), Master: master, Workers: []node.Ref{worker}}
	p := New(d, initial, nil)
	defer p.Terminate()

	_, err := p.ShutdownRequest(context.Background(), rpcmsg.ShutdownSync{})
	require.NoError(t, err)

	lv, err := p.LastView(context.Background())
	require.NoError(t, err)
	assert.False(t, lv.IsBooted())
	assert.Equal(t, master, lv.Master)
	assert.Equal(t, []node.Ref{worker}, lv.Workers)
}

func TestTerminateIsIdempotentAndRejectsLaterRequests(t *testing.T) {
	d := dispatch.New(func(node.Ref) node.Transport { return nil }, 100*time.Millisecond, nil)
	p := New(d, view.Unbooted, nil)

	p.Terminate()
	p.Terminate()

	_, err := p.Request(context.Background(), rpcmsg.Ping{})
	require.Error(t, err)
	assert.True(t, clustererr.Is(err, clustererr.ObjectDisposed))
}

func TestRequestAnsweredByAltLeavesMasterUnchanged(t *testing.T) {
	master := node.NewRef("m:1")
	alt := node.NewRef("a:1")

	var calls []node.Ref
	masterTr := &scriptedTransport{requestFn: func(ctx context.Context, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error) {
		calls = append(calls, master)
		return rpcmsg.Reply{}, clustererr.New(clustererr.CommunicationError, "down")
	}}
	altTr := &scriptedTransport{requestFn: func(ctx context.Context, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error) {
		calls = append(calls, alt)
		return rpcmsg.Reply{Value: "pong"}, nil
	}}

	d := dispatch.New(func(n node.Ref) node.Transport {
		if n == master {
			return masterTr
		}
		return altTr
	}, 50*time.Millisecond, nil)

	initial := view.View{DeploymentID: uuid.New(), Master: master, Alts: []node.Ref{alt}, FailoverFactor: 1}
	p := New(d, initial, nil)
	defer p.Terminate()

	_, err := p.Request(context.Background(), rpcmsg.Ping{})
	require.NoError(t, err)

	lv, err := p.LastView(context.Background())
	require.NoError(t, err)
	assert.Equal(t, master, lv.Master, "a successful reply with no membership change leaves master untouched")
}
