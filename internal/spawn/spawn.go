// Package spawn implements the local spawn interface consumed by
// lifecycle's AttachLocal (spec.md §6; this module has no InitLocal): start
// the out-of-scope worker binary and return a NodeRef once it reports its
// listening address. Tracking child processes so disposal can kill them is
// grounded on the teacher's shutdown.go; there is no signal handling here.
package spawn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/node"
)

// Options configure a single spawned worker process.
type Options struct {
	ExecPath string
	Port     int
	Hostname string
	Debug    bool
	// Background discards the process's stderr instead of forwarding it to
	// Logger. Stdout is read only until the LISTEN line in either case.
	Background bool
}

// Spawner starts and tracks locally-spawned worker processes so the
// controller can kill them on disposal (spec.md §3 "Handle ownership").
type Spawner struct {
	logger *slog.Logger

	mu        sync.Mutex
	processes map[node.Ref]*exec.Cmd
}

// New builds a Spawner.
func New(logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Spawner{logger: logger, processes: make(map[node.Ref]*exec.Cmd)}
}

// readyLineTimeout bounds how long Spawn waits for the child to report its
// listening address on its startup pipe before treating the launch as
// failed.
const readyLineTimeout = 10 * time.Second

// Spawn starts opts.ExecPath and waits for it to print its listening
// address ("LISTEN <addr>") on stdout, returning a Ref for it.
func (s *Spawner) Spawn(ctx context.Context, opts Options) (node.Ref, error) {
	if opts.ExecPath == "" {
		return node.Ref{}, clustererr.New(clustererr.Configuration, "no executable path configured for local spawn")
	}

	args := []string{}
	if opts.Port != 0 {
		args = append(args, "-port", fmt.Sprintf("%d", opts.Port))
	}
	if opts.Hostname != "" {
		args = append(args, "-hostname", opts.Hostname)
	}
	if opts.Debug {
		args = append(args, "-debug")
	}

	cmd := exec.CommandContext(ctx, opts.ExecPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return node.Ref{}, clustererr.Wrap(clustererr.CommunicationError, err, "open stdout pipe")
	}
	if !opts.Background {
		cmd.Stderr = logWriter{s.logger}
	}

	if err := cmd.Start(); err != nil {
		return node.Ref{}, clustererr.Wrap(clustererr.CommunicationError, err, "start local node process")
	}

	addrCh := make(chan string, 1)
	go scanForListenLine(stdout, addrCh)

	select {
	case addr := <-addrCh:
		ref := node.Ref{ID: uuid.New(), Addr: addr}
		s.mu.Lock()
		s.processes[ref] = cmd
		s.mu.Unlock()
		s.logger.Info("spawn: local node started", "ref", ref.String())
		return ref, nil
	case <-time.After(readyLineTimeout):
		_ = cmd.Process.Kill()
		return node.Ref{}, clustererr.New(clustererr.CommunicationError, "local node did not report a listen address in time")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return node.Ref{}, ctx.Err()
	}
}

func scanForListenLine(r io.Reader, out chan<- string) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "LISTEN ") {
			out <- strings.TrimPrefix(line, "LISTEN ")
			return
		}
	}
}

// Kill forcibly terminates every process this Spawner started, per
// LifecycleController's Kill operation (spec.md §4.F).
func (s *Spawner) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, cmd := range s.processes {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		delete(s.processes, ref)
	}
}

// Detach stops tracking ref without killing it (used when a locally
// spawned node is detached from the cluster but left running).
func (s *Spawner) Detach(ref node.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processes, ref)
}

// Tracks reports whether ref is a process this Spawner started and has not
// since killed or detached. LifecycleController's Kill uses this to enforce
// its "all current nodes must be local" precondition.
func (s *Spawner) Tracks(ref node.Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processes[ref]
	return ok
}

type logWriter struct{ logger *slog.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Warn("spawn: node stderr", "line", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
