// Package proxy implements the RuntimeProxy (spec.md §4.D): a
// single-threaded cooperative actor owning the mutable ClusterView and
// serializing every cluster-mutating message through one mailbox. This is
// the sole serialization point in the client, grounded on the teacher's
// channel-actor idiom in hub.go/topic.go (a goroutine selecting over typed
// channels rather than guarding a struct with a mutex).
package proxy

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/dispatch"
	nodepkg "github.com/gobrace/controller/internal/node"
	"github.com/gobrace/controller/internal/rpcmsg"
	"github.com/gobrace/controller/internal/view"
)

// currentOrPinnedID returns current's deploymentId if the cluster is
// booted, or a fresh non-nil id otherwise. For a direct request only
// OrderedTargets's IsBooted gate inspects it; for a MasterBoot the pinned
// view is installed on success, so a fresh id becomes the new deployment's
// id.
func currentOrPinnedID(current view.View) uuid.UUID {
	if current.IsBooted() {
		return current.DeploymentID
	}
	return uuid.New()
}

// bootCandidatesView builds a throwaway view over the nodes a MasterBoot
// names, master first and alts truncated to failoverFactor, so the
// dispatcher has somewhere to send the boot message regardless of whatever
// view the actor currently holds.
func bootCandidatesView(current view.View, nodes []nodepkg.Ref, failoverFactor int) view.View {
	v := view.View{DeploymentID: currentOrPinnedID(current), FailoverFactor: failoverFactor}
	if len(nodes) == 0 {
		return v
	}
	v.Master = nodes[0]
	end := 1 + failoverFactor
	if end > len(nodes) {
		end = len(nodes)
	}
	if end > 1 {
		v.Alts = append([]nodepkg.Ref(nil), nodes[1:end]...)
	}
	return v
}

// remoteRequest is a Remote(m, replyTo) mailbox item.
type remoteRequest struct {
	ctx     context.Context
	msg     rpcmsg.Message
	replyTo chan<- remoteResult
}

type remoteResult struct {
	reply rpcmsg.Reply
	err   error
}

// getLastView is a GetLastView(replyTo) mailbox item: a local query that
// never touches the network.
type getLastView struct {
	replyTo chan<- view.View
}

// masterBootRequest is the special MasterBoot(cfg) handling described in
// spec.md §4.D: checked and, on success, followed by a canonical-membership
// query against the new master.
type masterBootRequest struct {
	ctx       context.Context
	msg       rpcmsg.MasterBoot
	candidate func(view.View) bool
	replyTo   chan<- remoteResult
}

// Proxy is the RuntimeProxy actor. Callers never touch view directly; they
// submit mailbox items and read results off their own reply channel.
type Proxy struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mailbox chan interface{}
	done    chan struct{}
	stopped chan struct{}
}

// New starts the actor goroutine with the given initial view (Unbooted for
// a fresh controller, or a resumed view for one that attached to an
// already-booted cluster).
func New(d *dispatch.Dispatcher, initial view.View, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Proxy{
		dispatcher: d,
		logger:     logger,
		mailbox:    make(chan interface{}),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go p.run(initial)
	return p
}

func (p *Proxy) run(current view.View) {
	defer close(p.stopped)
	for {
		select {
		case item := <-p.mailbox:
			switch req := item.(type) {
			case remoteRequest:
				reply, newView, err := p.dispatcher.Dispatch(req.ctx, current, req.msg)
				current = newView
				req.replyTo <- remoteResult{reply: reply, err: err}

			case masterBootRequest:
				p.handleMasterBoot(req, &current)

			case shutdownRequest:
				reply, newView, err := p.dispatcher.Dispatch(req.ctx, current, req.msg)
				if err == nil {
					current = newView.Shutdown()
				}
				req.replyTo <- remoteResult{reply: reply, err: err}

			case getLastView:
				req.replyTo <- current

			case directRequest:
				pinned := view.View{DeploymentID: currentOrPinnedID(current), Master: req.target}
				reply, _, err := p.dispatcher.Dispatch(req.ctx, pinned, req.msg)
				req.replyTo <- remoteResult{reply: reply, err: err}

			default:
				p.logger.Error("proxy: unknown mailbox item", "type", item)
			}

		case <-p.done:
			p.drain()
			return
		}
	}
}

func (p *Proxy) handleMasterBoot(req masterBootRequest, current *view.View) {
	if req.candidate != nil && !req.candidate(*current) {
		req.replyTo <- remoteResult{err: clustererr.New(clustererr.NoEligibleMaster, "no candidate node has Master permission")}
		return
	}

	// MasterBoot addresses the boot candidates named in the message, not
	// the actor's own current view (which is Unbooted, or stale, precisely
	// because this is a Boot/BootInPlace call). Build a throwaway pinned
	// view from req.msg.Nodes so the dispatcher has somewhere to send it,
	// the same trick RequestDirect uses for Detach.
	targets := make([]nodepkg.Ref, len(req.msg.Nodes))
	for i, n := range req.msg.Nodes {
		targets[i] = nodepkg.Ref{ID: n.ID, Addr: n.Addr}
	}
	pinned := bootCandidatesView(*current, targets, req.msg.FailoverFactor)

	reply, newView, err := p.dispatcher.Dispatch(req.ctx, pinned, req.msg)
	if err != nil {
		req.replyTo <- remoteResult{err: err}
		return
	}
	*current = newView
	current.ReplicationFactor = req.msg.ReplicationFactor
	current.StoreID = req.msg.StoreID

	// Query the new master for canonical membership and install it, per
	// spec.md §4.D's special MasterBoot handling.
	canon, _, err := p.dispatcher.Dispatch(req.ctx, *current, rpcmsg.GetAllNodes{})
	if err == nil {
		if nodes, ok := canon.Value.([]rpcmsg.BootNode); ok {
			refs := make([]nodepkg.Ref, len(nodes))
			for i, n := range nodes {
				refs[i] = nodepkg.Ref{ID: n.ID, Addr: n.Addr}
			}
			*current = current.WithMembership(refs)
		}
	}

	req.replyTo <- remoteResult{reply: reply}
}

func (p *Proxy) drain() {
	for {
		select {
		case item := <-p.mailbox:
			switch req := item.(type) {
			case remoteRequest:
				req.replyTo <- remoteResult{err: clustererr.New(clustererr.ObjectDisposed, "proxy terminated")}
			case masterBootRequest:
				req.replyTo <- remoteResult{err: clustererr.New(clustererr.ObjectDisposed, "proxy terminated")}
			case shutdownRequest:
				req.replyTo <- remoteResult{err: clustererr.New(clustererr.ObjectDisposed, "proxy terminated")}
			case directRequest:
				req.replyTo <- remoteResult{err: clustererr.New(clustererr.ObjectDisposed, "proxy terminated")}
			case getLastView:
				req.replyTo <- view.Unbooted
			}
		default:
			return
		}
	}
}

// Request submits m for dispatch and blocks for the reply. Cancelling ctx
// cancels the outstanding wait without undoing any remote effect, per
// spec.md §5.
func (p *Proxy) Request(ctx context.Context, m rpcmsg.Message) (rpcmsg.Reply, error) {
	replyTo := make(chan remoteResult, 1)
	select {
	case p.mailbox <- remoteRequest{ctx: ctx, msg: m, replyTo: replyTo}:
	case <-p.stopped:
		return rpcmsg.Reply{}, clustererr.New(clustererr.ObjectDisposed, "proxy terminated")
	}
	select {
	case res := <-replyTo:
		return res.reply, res.err
	case <-ctx.Done():
		return rpcmsg.Reply{}, clustererr.Wrap(clustererr.Timeout, ctx.Err(), "request cancelled")
	}
}

// MasterBootRequest submits a MasterBoot message, first checking candidate
// against the pre-dispatch view (NoEligibleMaster precondition).
func (p *Proxy) MasterBootRequest(ctx context.Context, m rpcmsg.MasterBoot, candidate func(view.View) bool) (rpcmsg.Reply, error) {
	replyTo := make(chan remoteResult, 1)
	select {
	case p.mailbox <- masterBootRequest{ctx: ctx, msg: m, candidate: candidate, replyTo: replyTo}:
	case <-p.stopped:
		return rpcmsg.Reply{}, clustererr.New(clustererr.ObjectDisposed, "proxy terminated")
	}
	select {
	case res := <-replyTo:
		return res.reply, res.err
	case <-ctx.Done():
		return rpcmsg.Reply{}, clustererr.Wrap(clustererr.Timeout, ctx.Err(), "request cancelled")
	}
}

// shutdownRequest is the special ShutdownSync handling: on success, the
// view's deploymentId resets to zero (spec.md §8) rather than being
// replaced wholesale by whatever the dispatcher returned.
type shutdownRequest struct {
	ctx     context.Context
	msg     rpcmsg.ShutdownSync
	replyTo chan<- remoteResult
}

// ShutdownRequest submits a ShutdownSync message and, on success, resets
// the view's deploymentId to zero while preserving the last-known
// membership for a later BootInPlace.
func (p *Proxy) ShutdownRequest(ctx context.Context, m rpcmsg.ShutdownSync) (rpcmsg.Reply, error) {
	replyTo := make(chan remoteResult, 1)
	select {
	case p.mailbox <- shutdownRequest{ctx: ctx, msg: m, replyTo: replyTo}:
	case <-p.stopped:
		return rpcmsg.Reply{}, clustererr.New(clustererr.ObjectDisposed, "proxy terminated")
	}
	select {
	case res := <-replyTo:
		return res.reply, res.err
	case <-ctx.Done():
		return rpcmsg.Reply{}, clustererr.Wrap(clustererr.Timeout, ctx.Err(), "request cancelled")
	}
}

// directRequest is a Direct(target, m, replyTo) mailbox item: dispatched
// against a synthetic single-node view pinned at target instead of the
// actor's current view, and never mutates that current view. Used for
// messages spec.md routes outside the master (Detach).
type directRequest struct {
	ctx     context.Context
	target  nodepkg.Ref
	msg     rpcmsg.Message
	replyTo chan<- remoteResult
}

// RequestDirect submits m to target directly, bypassing the proxy's shared
// ClusterView and master-targeting. The current view is left untouched
// regardless of outcome.
func (p *Proxy) RequestDirect(ctx context.Context, target nodepkg.Ref, m rpcmsg.Message) (rpcmsg.Reply, error) {
	replyTo := make(chan remoteResult, 1)
	select {
	case p.mailbox <- directRequest{ctx: ctx, target: target, msg: m, replyTo: replyTo}:
	case <-p.stopped:
		return rpcmsg.Reply{}, clustererr.New(clustererr.ObjectDisposed, "proxy terminated")
	}
	select {
	case res := <-replyTo:
		return res.reply, res.err
	case <-ctx.Done():
		return rpcmsg.Reply{}, clustererr.Wrap(clustererr.Timeout, ctx.Err(), "request cancelled")
	}
}

// LastView is the local-only GetLastView query: it never suspends on
// network I/O.
func (p *Proxy) LastView(ctx context.Context) (view.View, error) {
	replyTo := make(chan view.View, 1)
	select {
	case p.mailbox <- getLastView{replyTo: replyTo}:
	case <-p.stopped:
		return view.Unbooted, clustererr.New(clustererr.ObjectDisposed, "proxy terminated")
	}
	select {
	case v := <-replyTo:
		return v, nil
	case <-ctx.Done():
		return view.Unbooted, ctx.Err()
	}
}

// Terminate drains the mailbox, failing every pending request with
// ObjectDisposed (there is no separate Cancelled kind), and stops the
// actor. Idempotent: terminating twice is a no-op.
func (p *Proxy) Terminate() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
	}
	<-p.stopped
}
