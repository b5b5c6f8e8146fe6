// Package process implements ProcessManager and ProcessHandle (spec.md
// §4.G): creating cloud processes, awaiting their results asynchronously,
// killing, listing, and purging process state. All operations route
// through the RuntimeProxy; nothing here talks to a transport directly.
package process

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/metrics"
	"github.com/gobrace/controller/internal/packager"
	"github.com/gobrace/controller/internal/proxy"
	"github.com/gobrace/controller/internal/rpcmsg"
)

// Requester is the subset of Proxy that ProcessManager depends on; a
// narrower interface than *proxy.Proxy so tests can substitute a fake.
type Requester interface {
	Request(ctx context.Context, m rpcmsg.Message) (rpcmsg.Reply, error)
}

var _ Requester = (*proxy.Proxy)(nil)

// Manager implements ProcessManager.
type Manager struct {
	proxy    Requester
	clientID uuid.UUID

	// Metrics is optional; nil leaves every counter/gauge update a no-op.
	Metrics *metrics.Collector
}

// New builds a Manager bound to proxy and the controller's clientId
// (embedded in every CreateProcess envelope).
func New(p Requester, clientID uuid.UUID) *Manager {
	return &Manager{proxy: p, clientID: clientID}
}

func (m *Manager) envelope() rpcmsg.Envelope {
	return rpcmsg.Envelope{ClientID: m.clientID, RequestID: uuid.New()}
}

// CreateProcess validates img is serializable, submits it, and returns a
// Handle bound to the id the cluster assigned. Serialization is checked
// before any network traffic: a gob-encoding failure fails synchronously
// with ComputationNotSerializable, per spec.md §4.G.
func (m *Manager) CreateProcess(ctx context.Context, img packager.Image) (*Handle, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(img); err != nil {
		return nil, clustererr.Wrap(clustererr.ComputationNotSerializable, err, "computation image cannot be serialized")
	}

	deps := make([]rpcmsg.DependencyRef, len(img.Dependencies))
	for i, d := range img.Dependencies {
		deps[i] = rpcmsg.DependencyRef{AssemblyID: d.AssemblyID, Size: d.Size, Hash: d.Hash}
	}

	reply, err := m.proxy.Request(ctx, rpcmsg.CreateProcess{
		Envelope:      m.envelope(),
		ClientID:      img.ClientID,
		Name:          img.Name,
		Payload:       img.Payload,
		ReturnTypeTag: img.ReturnTypeTag,
		Dependencies:  deps,
	})
	if err != nil {
		return nil, err
	}

	id, ok := reply.Value.(uuid.UUID)
	if !ok {
		return nil, clustererr.New(clustererr.CommunicationError, "malformed CreateProcess reply")
	}
	if m.Metrics != nil {
		m.Metrics.ProcessesCreated.Inc()
	}
	return &Handle{proxy: m.proxy, envelope: m.envelope, id: id}, nil
}

// Kill submits KillProcess(pid).
func (m *Manager) Kill(ctx context.Context, pid uuid.UUID) error {
	_, err := m.proxy.Request(ctx, rpcmsg.KillProcess{Envelope: m.envelope(), ProcessID: pid})
	return err
}

// Get resolves a Handle for pid, failing NoSuchProcess if the cluster
// doesn't know it.
func (m *Manager) Get(ctx context.Context, pid uuid.UUID) (*Handle, error) {
	reply, err := m.proxy.Request(ctx, rpcmsg.GetProcess{Envelope: m.envelope(), ProcessID: pid})
	if err != nil {
		return nil, err
	}
	if _, ok := reply.Value.(rpcmsg.ProcessRecord); !ok {
		return nil, clustererr.New(clustererr.NoSuchProcess, "unknown process id")
	}
	return &Handle{proxy: m.proxy, envelope: m.envelope, id: pid}, nil
}

// GetAll lists every process the cluster currently tracks as a Handle.
func (m *Manager) GetAll(ctx context.Context) ([]*Handle, error) {
	reply, err := m.proxy.Request(ctx, rpcmsg.GetAllProcesses{Envelope: m.envelope()})
	if err != nil {
		return nil, err
	}
	records, ok := reply.Value.([]rpcmsg.ProcessRecord)
	if !ok {
		return nil, clustererr.New(clustererr.CommunicationError, "malformed GetAllProcesses reply")
	}
	handles := make([]*Handle, len(records))
	counts := make(map[string]int)
	for i, r := range records {
		handles[i] = &Handle{proxy: m.proxy, envelope: m.envelope, id: r.ID}
		counts[r.Status.String()]++
	}
	if m.Metrics != nil {
		m.Metrics.ProcessesByStatus.Reset()
		for status, n := range counts {
			m.Metrics.ProcessesByStatus.WithLabelValues(status).Set(float64(n))
		}
	}
	return handles, nil
}

// ClearInfo removes the persisted record for pid. Only valid for processes
// in a terminal state; the cluster side enforces this and returns
// PreconditionFailed otherwise.
func (m *Manager) ClearInfo(ctx context.Context, pid uuid.UUID) error {
	id := pid
	_, err := m.proxy.Request(ctx, rpcmsg.ClearProcessInfo{Envelope: m.envelope(), ProcessID: &id})
	return err
}

// ClearAllInfo removes every terminal-state persisted record.
func (m *Manager) ClearAllInfo(ctx context.Context) error {
	_, err := m.proxy.Request(ctx, rpcmsg.ClearProcessInfo{Envelope: m.envelope(), ProcessID: nil})
	return err
}

// Handle is a ProcessHandle: a thin, re-readable view onto a cluster-side
// Process record.
type Handle struct {
	proxy    Requester
	envelope func() rpcmsg.Envelope
	id       uuid.UUID
}

// Id returns the handle's ProcessId.
func (h *Handle) Id() uuid.UUID { return h.id }

// Status re-reads the process's status through the proxy on every call.
func (h *Handle) Status(ctx context.Context) (rpcmsg.ProcessStatus, error) {
	reply, err := h.proxy.Request(ctx, rpcmsg.GetProcess{Envelope: h.envelope(), ProcessID: h.id})
	if err != nil {
		return 0, err
	}
	record, ok := reply.Value.(rpcmsg.ProcessRecord)
	if !ok {
		return 0, clustererr.New(clustererr.NoSuchProcess, "unknown process id")
	}
	return record.Status, nil
}

// minPollInterval and maxPollInterval bound AwaitResultAsync's exponential
// back-off, per spec.md §4.G.
const (
	minPollInterval = 200 * time.Millisecond
	maxPollInterval = 2 * time.Second
)

// AwaitResultAsync polls Status with exponential back-off between 200ms and
// 2s until the process reaches a terminal state, ctx is cancelled, or
// timeout elapses. On Completed it returns the raw result bytes; on
// Faulted it surfaces the remote error; on Killed it fails ProcessKilled;
// on a local timeout it fails AwaitTimeout without cancelling the remote
// process.
func (h *Handle) AwaitResultAsync(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = minPollInterval
	bo.MaxInterval = maxPollInterval
	bo.RandomizationFactor = 0 // keep every interval inside [minPollInterval, maxPollInterval]
	bo.MaxElapsedTime = 0 // bounded by ctx instead, not by the backoff's own clock

	ticker := backoff.NewTicker(bo)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, clustererr.New(clustererr.AwaitTimeout, "await timed out before the process reached a terminal state")
		case _, ok := <-ticker.C:
			if !ok {
				return nil, clustererr.New(clustererr.AwaitTimeout, "await timed out before the process reached a terminal state")
			}
			reply, err := h.proxy.Request(ctx, rpcmsg.GetProcess{Envelope: h.envelope(), ProcessID: h.id})
			if err != nil {
				if clustererr.Retryable(err) {
					continue
				}
				return nil, err
			}
			record, ok := reply.Value.(rpcmsg.ProcessRecord)
			if !ok {
				return nil, clustererr.New(clustererr.NoSuchProcess, "unknown process id")
			}
			switch record.Status {
			case rpcmsg.Completed:
				return record.Result, nil
			case rpcmsg.Faulted:
				return nil, clustererr.Remote(record.ErrMessage, record.ErrDetail)
			case rpcmsg.Killed:
				return nil, clustererr.New(clustererr.ProcessKilled, "process was killed")
			default:
				// Pending or Running: keep polling.
			}
		}
	}
}

// GetLogs returns the log entries accumulated for this process since
// creation.
func (h *Handle) GetLogs(ctx context.Context) ([]rpcmsg.LogEntry, error) {
	reply, err := h.proxy.Request(ctx, rpcmsg.GetLogDump{Envelope: h.envelope(), ProcessID: h.id})
	if err != nil {
		return nil, err
	}
	entries, ok := reply.Value.([]rpcmsg.LogEntry)
	if !ok {
		return nil, clustererr.New(clustererr.CommunicationError, "malformed GetLogDump reply")
	}
	return entries, nil
}
