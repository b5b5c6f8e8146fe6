// Package lifecycle implements LifecycleController (spec.md §4.F): the
// Boot/Reboot/Shutdown/Attach/Detach operations, their preconditions, and
// master-candidate selection. Each operation is a thin wrapper that
// prepares an rpcmsg.Message, submits it through the RuntimeProxy, and
// interprets the reply — grounded on the teacher's topic.go handler
// functions (each a precondition check followed by a single hub/cluster
// round trip).
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/node"
	"github.com/gobrace/controller/internal/proxy"
	"github.com/gobrace/controller/internal/rpcmsg"
	"github.com/gobrace/controller/internal/spawn"
	"github.com/gobrace/controller/internal/view"
)

// defaultFailoverFactor and defaultReplicationFactor implement the
// defaults spec.md leaves to the controller: failoverFactor defaults to
// min(len(nodes)-1, 2); replicationFactor defaults to 2 unless
// failoverFactor resolves to 0, in which case it is 0.
func defaultFailoverFactor(nodeCount int) int {
	ff := nodeCount - 1
	if ff > 2 {
		ff = 2
	}
	if ff < 0 {
		ff = 0
	}
	return ff
}

func defaultReplicationFactor(failoverFactor int) int {
	if failoverFactor == 0 {
		return 0
	}
	return 2
}

// BootConfiguration is the input to Boot, mirroring spec.md §3.
type BootConfiguration struct {
	Nodes             []node.Ref
	ReplicationFactor *int
	FailoverFactor    *int
	StoreID           string
}

// Controller implements spec.md §4.F against a RuntimeProxy. It also owns
// the spawner used by AttachLocal and Kill for nodes the controller itself
// launched (there is no InitLocal operation).
type Controller struct {
	proxy    *proxy.Proxy
	spawner  *spawn.Spawner
	clientID uuid.UUID
	logger   *slog.Logger
}

// New builds a Controller. spawner may be nil if local-node operations are
// never used.
func New(p *proxy.Proxy, spawner *spawn.Spawner, clientID uuid.UUID, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{proxy: p, spawner: spawner, clientID: clientID, logger: logger}
}

func (c *Controller) envelope() rpcmsg.Envelope {
	return rpcmsg.Envelope{ClientID: c.clientID, RequestID: uuid.New()}
}

func toBootNodes(refs []node.Ref) []rpcmsg.BootNode {
	out := make([]rpcmsg.BootNode, len(refs))
	for i, r := range refs {
		out[i] = rpcmsg.BootNode{ID: r.ID, Addr: r.Addr}
	}
	return out
}

// Boot starts a fresh deployment across cfg.Nodes. Precondition: the
// cluster must be unbooted and len(nodes) >= max(1, replicationFactor+1).
func (c *Controller) Boot(ctx context.Context, cfg BootConfiguration) error {
	current, err := c.proxy.LastView(ctx)
	if err != nil {
		return err
	}
	if current.IsBooted() {
		return clustererr.New(clustererr.PreconditionFailed, "already active")
	}

	var ff, rf int
	if cfg.FailoverFactor != nil {
		ff = *cfg.FailoverFactor
	} else {
		ff = defaultFailoverFactor(len(cfg.Nodes))
	}
	if cfg.ReplicationFactor != nil {
		rf = *cfg.ReplicationFactor
	} else {
		rf = defaultReplicationFactor(ff)
	}

	minNodes := rf + 1
	if minNodes < 1 {
		minNodes = 1
	}
	if len(cfg.Nodes) < minNodes {
		return clustererr.New(clustererr.PreconditionFailed, "not enough nodes for the requested replication factor")
	}

	msg := rpcmsg.MasterBoot{
		Envelope:          c.envelope(),
		Nodes:             toBootNodes(cfg.Nodes),
		ReplicationFactor: rf,
		FailoverFactor:    ff,
		StoreID:           cfg.StoreID,
	}

	candidate := func(_ view.View) bool {
		// Candidate eligibility is determined from the caller-supplied node
		// list itself: Boot has no prior NodeInfo to consult, so any
		// non-empty node list is accepted here and the cluster-side handler
		// is the authority on which node actually becomes master. No
		// operation checks Master permission against NodeInfo; Reboot
		// reaches this same check through BootInPlace and Boot.
		return len(cfg.Nodes) > 0
	}

	_, err = c.proxy.MasterBootRequest(ctx, msg, candidate)
	return err
}

// BootInPlace reuses the last-known node list to re-boot a cluster that was
// previously shut down. Per the resolved Open Question in spec.md §9, it
// fails PreconditionFailed("insufficient cluster information") when there
// is no prior view to reuse, rather than silently defaulting.
func (c *Controller) BootInPlace(ctx context.Context, rf, ff *int) error {
	current, err := c.proxy.LastView(ctx)
	if err != nil {
		return err
	}
	if !current.IsBooted() && len(current.Workers) == 0 && current.Master.IsZero() {
		return clustererr.New(clustererr.PreconditionFailed, "insufficient cluster information")
	}
	if current.IsBooted() {
		return clustererr.New(clustererr.PreconditionFailed, "already active")
	}

	nodes := append([]node.Ref{current.Master}, current.Alts...)
	nodes = append(nodes, current.Workers...)

	lastRF, lastFF := current.ReplicationFactor, current.FailoverFactor
	cfg := BootConfiguration{
		Nodes:             nodes,
		ReplicationFactor: &lastRF,
		FailoverFactor:    &lastFF,
		StoreID:           current.StoreID,
	}
	if rf != nil {
		cfg.ReplicationFactor = rf
	}
	if ff != nil {
		cfg.FailoverFactor = ff
	}
	return c.Boot(ctx, cfg)
}

// Shutdown sends ShutdownSync and, on success, the view's deploymentId
// resets to zero. Per the resolved Open Question in spec.md §9, this is
// always synchronous: there is no fire-and-forget variant.
func (c *Controller) Shutdown(ctx context.Context) error {
	current, err := c.proxy.LastView(ctx)
	if err != nil {
		return err
	}
	if !current.IsBooted() {
		return clustererr.New(clustererr.PreconditionFailed, "not booted")
	}
	_, err = c.proxy.ShutdownRequest(ctx, rpcmsg.ShutdownSync{Envelope: c.envelope()})
	return err
}

// Reboot is Shutdown followed by BootInPlace with optionally overridden
// factors.
func (c *Controller) Reboot(ctx context.Context, rf, ff *int) error {
	if err := c.Shutdown(ctx); err != nil {
		return err
	}
	return c.BootInPlace(ctx, rf, ff)
}

// Attach sends Attach(node) to the master. The proxy's view is not
// changed: the attached node does not appear in the view's Workers.
func (c *Controller) Attach(ctx context.Context, n node.Ref) error {
	current, err := c.proxy.LastView(ctx)
	if err != nil {
		return err
	}
	if !current.IsBooted() {
		return clustererr.New(clustererr.PreconditionFailed, "not booted")
	}
	_, err = c.proxy.Request(ctx, rpcmsg.Attach{
		Envelope: c.envelope(),
		Node:     rpcmsg.BootNode{ID: n.ID, Addr: n.Addr},
	})
	return err
}

// Detach sends Detach directly to the node (not the master). Precondition:
// node must be a known worker.
func (c *Controller) Detach(ctx context.Context, n node.Ref) error {
	current, err := c.proxy.LastView(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, w := range current.Workers {
		if w == n {
			found = true
			break
		}
	}
	if !found {
		return clustererr.New(clustererr.PreconditionFailed, "node is not a known worker")
	}
	// Detach is routed to the node itself, not the master (spec.md §4.F),
	// so it bypasses the proxy's shared ClusterView entirely.
	_, err = c.proxy.RequestDirect(ctx, n, rpcmsg.Detach{Envelope: c.envelope()})
	if err != nil {
		return err
	}
	if c.spawner != nil {
		c.spawner.Detach(n)
	}
	return nil
}

// AttachLocal spawns n worker processes via the configured spawner and
// Attaches each in turn.
func (c *Controller) AttachLocal(ctx context.Context, n int, opts spawn.Options) error {
	if c.spawner == nil {
		return clustererr.New(clustererr.Configuration, "no local spawner configured")
	}
	for i := 0; i < n; i++ {
		ref, err := c.spawner.Spawn(ctx, opts)
		if err != nil {
			return err
		}
		if err := c.Attach(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// Kill forcibly terminates every locally-spawned node process and disposes
// the controller's view of the cluster by terminating the proxy that owns
// it. Precondition: all current nodes must be local (i.e. this controller
// is the one that spawned them).
func (c *Controller) Kill(ctx context.Context) error {
	if c.spawner == nil {
		return clustererr.New(clustererr.PreconditionFailed, "no local nodes to kill")
	}
	current, err := c.proxy.LastView(ctx)
	if err != nil {
		return err
	}
	nodes := make([]node.Ref, 0, 2+len(current.Alts)+len(current.Workers))
	if !current.Master.IsZero() {
		nodes = append(nodes, current.Master)
	}
	nodes = append(nodes, current.Alts...)
	nodes = append(nodes, current.Workers...)
	for _, n := range nodes {
		if !c.spawner.Tracks(n) {
			return clustererr.New(clustererr.PreconditionFailed, "cluster has non-local nodes; Kill only terminates locally-spawned processes")
		}
	}
	c.spawner.Kill()
	c.proxy.Terminate()
	return nil
}
