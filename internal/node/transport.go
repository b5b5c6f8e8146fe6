package node

import (
	"context"
	"net/rpc"
	"sync"
	"time"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/rpcmsg"
)

// Transport is the capability a Ref is addressed through: fire-and-forget
// Send, and Request/reply with a deadline. Implementations must classify
// failures as CommunicationError or Timeout so the FailoverDispatcher's
// retry decision (spec.md §4.C) is correct.
type Transport interface {
	Send(ctx context.Context, m rpcmsg.Message) error
	Request(ctx context.Context, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error)
	Close() error
}

// defaultReconnectBackoff is the delay between reconnect attempts, grounded
// on the teacher's defaultClusterReconnect constant in cluster.go.
const defaultReconnectBackoff = 200 * time.Millisecond

// RPCTransport is a net/rpc-based Transport to a single Ref, pooling one
// connection and reconnecting it in the background on failure. It is
// directly grounded on the teacher's ClusterNode: a mutex-guarded
// *rpc.Client, a connected flag, and a reconnect goroutine triggered by
// call failures.
type RPCTransport struct {
	ref Ref

	mu           sync.Mutex
	client       *rpc.Client
	connected    bool
	reconnecting bool
	done         chan struct{}
}

// NewRPCTransport builds a transport to ref. The connection is established
// lazily on the first call and kept alive thereafter; pooling is
// process-wide in spirit (one *RPCTransport per Ref, reused by every
// caller), per spec.md §5.
func NewRPCTransport(ref Ref) *RPCTransport {
	return &RPCTransport{ref: ref, done: make(chan struct{}, 1)}
}

func (t *RPCTransport) dial() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	c, err := rpc.Dial("tcp", t.ref.Addr)
	if err != nil {
		return clustererr.Wrap(clustererr.CommunicationError, err, "dial "+t.ref.Addr)
	}
	t.client = c
	t.connected = true
	return nil
}

// reconnect mirrors the teacher's ClusterNode.reconnect: a single
// background retry loop guarded against parallel starts, using a fixed
// backoff between attempts until it succeeds or Close is called.
func (t *RPCTransport) reconnect() {
	t.mu.Lock()
	if t.reconnecting || t.connected {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	t.mu.Unlock()

	ticker := time.NewTicker(defaultReconnectBackoff)
	defer ticker.Stop()

	for {
		if err := t.dial(); err == nil {
			t.mu.Lock()
			t.reconnecting = false
			t.mu.Unlock()
			return
		}
		select {
		case <-ticker.C:
		case <-t.done:
			t.mu.Lock()
			t.reconnecting = false
			t.mu.Unlock()
			return
		}
	}
}

func (t *RPCTransport) markDisconnected() {
	t.mu.Lock()
	if t.connected {
		if t.client != nil {
			t.client.Close()
		}
		t.connected = false
	}
	t.mu.Unlock()
	go t.reconnect()
}

// Send dials if necessary and waits, with no deadline beyond ctx, for the
// RPC call to complete; the reply value is discarded.
func (t *RPCTransport) Send(ctx context.Context, m rpcmsg.Message) error {
	_, err := t.call(ctx, "Cluster.Dispatch", m, 0)
	return err
}

// Request sends m and waits up to timeout for a reply.
func (t *RPCTransport) Request(ctx context.Context, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error) {
	return t.call(ctx, "Cluster.Dispatch", m, timeout)
}

func (t *RPCTransport) call(ctx context.Context, proc string, m rpcmsg.Message, timeout time.Duration) (rpcmsg.Reply, error) {
	if err := t.dial(); err != nil {
		return rpcmsg.Reply{}, err
	}

	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	var reply rpcmsg.Reply
	// Passing &m makes gob send an interface value (registered concrete
	// type name plus body), which the server's Message argument can decode.
	call := client.Go(proc, &m, &reply, make(chan *rpc.Call, 1))

	deadline := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		deadline, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case res := <-call.Done:
		if res.Error != nil {
			t.markDisconnected()
			return rpcmsg.Reply{}, clustererr.Wrap(clustererr.CommunicationError, res.Error, "rpc call failed")
		}
		return reply, nil
	case <-deadline.Done():
		return rpcmsg.Reply{}, clustererr.New(clustererr.Timeout, "no reply from "+t.ref.Addr+" within deadline")
	}
}

// Close tears down the connection and stops any in-flight reconnect loop.
// Idempotent: closing twice is a no-op, per spec.md §7.
func (t *RPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case t.done <- struct{}{}:
	default:
	}
	if t.connected && t.client != nil {
		t.connected = false
		return t.client.Close()
	}
	return nil
}
