// Package dispatch implements the FailoverDispatcher (spec.md §4.C): given
// a ClusterView and a request, send to the current master, transparently
// fail over to alternates on communication failure, and reconcile
// membership via a parallel reprobe before giving up.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/metrics"
	"github.com/gobrace/controller/internal/node"
	"github.com/gobrace/controller/internal/rpcmsg"
	"github.com/gobrace/controller/internal/view"
)

// TransportFactory resolves the Transport to use for a given Ref. The
// dispatcher never owns transports itself; it is handed a factory so
// whoever builds the Dispatcher (cmd/gobracectl keeps the pool) controls
// their lifetime. It may be called from several goroutines at once.
type TransportFactory func(node.Ref) node.Transport

// Dispatcher implements the algorithm in spec.md §4.C.
type Dispatcher struct {
	Transports     TransportFactory
	AttemptTimeout time.Duration
	ProbeTimeout   time.Duration
	Logger         *slog.Logger

	// Metrics is optional; nil leaves every counter/gauge update a no-op so
	// existing callers need not supply one.
	Metrics *metrics.Collector
}

// New builds a Dispatcher with sane defaults for the probe timeout, which
// is deliberately short per spec.md §4.C step 3 ("short timeout").
func New(transports TransportFactory, attemptTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Transports:     transports,
		AttemptTimeout: attemptTimeout,
		ProbeTimeout:   attemptTimeout / 4,
		Logger:         logger,
	}
}

// Dispatch sends m against v's ordered targets, retrying across alternates
// on communication failure and reprobing membership once if every target
// fails. It returns the reply and the (possibly updated) view that the
// caller should install.
func (d *Dispatcher) Dispatch(ctx context.Context, v view.View, m rpcmsg.Message) (rpcmsg.Reply, view.View, error) {
	return d.dispatch(ctx, v, m, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, v view.View, m rpcmsg.Message, allowReprobe bool) (rpcmsg.Reply, view.View, error) {
	targets := v.OrderedTargets()
	if len(targets) == 0 {
		return rpcmsg.Reply{}, v, clustererr.New(clustererr.NoMaster, "cluster view has no targets")
	}

	for i, t := range targets {
		tr := d.Transports(t)
		reply, err := tr.Request(ctx, m, d.AttemptTimeout)
		if err == nil {
			if reply.RemoteError != nil {
				// The cluster is reachable; the failure is semantic.
				// Propagate untouched, no retry.
				d.recordAttempt("remote_error")
				return reply, v, clustererr.Remote(reply.RemoteError.Message, reply.RemoteError.Detail)
			}
			d.recordAttempt("success")
			return reply, v, nil
		}
		if !clustererr.Retryable(err) {
			d.recordAttempt("fatal_error")
			return rpcmsg.Reply{}, v, err
		}
		d.recordAttempt("retryable_error")
		if i < len(targets)-1 {
			d.recordFailover()
		}
		d.Logger.Warn("dispatch: target unreachable, trying next", "target", t.String(), "error", err)
	}

	if !allowReprobe {
		d.recordClusterUnreachable()
		return rpcmsg.Reply{}, v, clustererr.New(clustererr.ClusterUnreachable, "all targets unreachable after reprobe")
	}

	newView, err := d.reprobe(ctx, v, targets)
	if err != nil {
		d.recordClusterUnreachable()
		return rpcmsg.Reply{}, v, clustererr.New(clustererr.ClusterUnreachable, "all targets unreachable and reprobe failed")
	}
	d.recordLiveNodes(newView)

	return d.dispatch(ctx, newView, m, false)
}

func (d *Dispatcher) recordAttempt(outcome string) {
	if d.Metrics != nil {
		d.Metrics.DispatchAttempts.WithLabelValues(outcome).Inc()
	}
}

func (d *Dispatcher) recordFailover() {
	if d.Metrics != nil {
		d.Metrics.Failovers.Inc()
	}
}

func (d *Dispatcher) recordClusterUnreachable() {
	if d.Metrics != nil {
		d.Metrics.ClusterUnreachable.Inc()
	}
}

func (d *Dispatcher) recordLiveNodes(v view.View) {
	if d.Metrics != nil {
		d.Metrics.LiveNodes.Set(float64(len(v.OrderedTargets())))
	}
}

// reprobe issues GetAllNodes against every target in parallel with a short
// timeout, per spec.md §4.C step 3. The first successful reply wins; later
// replies are discarded, matching the "first reply wins" tie-break rule.
func (d *Dispatcher) reprobe(ctx context.Context, v view.View, targets []node.Ref) (view.View, error) {
	type probeResult struct {
		nodes []rpcmsg.BootNode
		err   error
	}

	results := make(chan probeResult, len(targets))
	var wg sync.WaitGroup
	probeCtx, cancel := context.WithTimeout(ctx, d.ProbeTimeout)
	defer cancel()

	for _, t := range targets {
		wg.Add(1)
		go func(t node.Ref) {
			defer wg.Done()
			tr := d.Transports(t)
			reply, err := tr.Request(probeCtx, rpcmsg.GetAllNodes{Envelope: rpcmsg.Envelope{RequestID: uuid.New()}}, d.ProbeTimeout)
			if err != nil {
				results <- probeResult{err: err}
				return
			}
			nodes, ok := reply.Value.([]rpcmsg.BootNode)
			if !ok {
				results <- probeResult{err: clustererr.New(clustererr.CommunicationError, "malformed GetAllNodes reply")}
				return
			}
			results <- probeResult{nodes: nodes}
		}(t)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err == nil {
			return membershipFromNodes(v, r.nodes), nil
		}
	}
	return v, clustererr.New(clustererr.ClusterUnreachable, "every reprobe target failed")
}

// membershipFromNodes rebuilds a View's master/alts from a GetAllNodes
// reply, keeping the deployment id, factors and store id that only change
// on Boot/Shutdown.
func membershipFromNodes(old view.View, nodes []rpcmsg.BootNode) view.View {
	refs := make([]node.Ref, len(nodes))
	for i, n := range nodes {
		refs[i] = node.Ref{ID: n.ID, Addr: n.Addr}
	}
	return old.WithMembership(refs)
}
