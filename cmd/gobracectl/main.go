// Command gobracectl is the CLI entry point for the cluster controller:
// load configuration, boot or attach to a cluster, optionally submit a
// demo computation and await its result, and optionally shut the cluster
// down. Flag layout and
// log.Fatal-on-setup-error idiom are grounded on the teacher's
// tinode-db/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gobrace/controller/internal/dispatch"
	"github.com/gobrace/controller/internal/lifecycle"
	"github.com/gobrace/controller/internal/metrics"
	"github.com/gobrace/controller/internal/node"
	"github.com/gobrace/controller/internal/packager"
	"github.com/gobrace/controller/internal/process"
	"github.com/gobrace/controller/internal/proxy"
	"github.com/gobrace/controller/internal/settings"
	"github.com/gobrace/controller/internal/spawn"
	"github.com/gobrace/controller/internal/store"
	"github.com/gobrace/controller/internal/view"
)

func main() {
	conffile := flag.String("config", "./gobrace.conf", "path to the app config file (JSON with // comments)")
	bootAddrs := flag.String("boot", "", "comma-separated node addresses to boot a fresh cluster against")
	attachAddr := flag.String("attach", "", "node address to attach to an already-booted cluster")
	submit := flag.Bool("submit", false, "submit a demo computation and await its result")
	shutdown := flag.Bool("shutdown", false, "shut down the cluster before exiting")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	registry := store.NewRegistry(
		store.NewLocalStore(os.TempDir()),
		store.NewS3Store("us-east-1", "", false),
	)

	cfg, err := settings.Load(*conffile, registry)
	if err != nil {
		logger.Warn("gobracectl: no usable config file, falling back to defaults", "path", *conffile, "error", err)
		cfg, err = settings.New(settingsDefaults(), registry)
		if err != nil {
			logger.Error("gobracectl: failed to initialize settings", "error", err)
			os.Exit(1)
		}
	}

	collector := metrics.NewCollector()
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("gobracectl: metrics server stopped", "error", err)
			}
		}()
	}

	// One pooled transport per Ref, shared by every caller; the dispatcher
	// calls this from parallel reprobe goroutines, hence the mutex.
	var poolMu sync.Mutex
	pool := make(map[node.Ref]node.Transport)
	transports := func(n node.Ref) node.Transport {
		poolMu.Lock()
		defer poolMu.Unlock()
		if tr, ok := pool[n]; ok {
			return tr
		}
		tr := node.NewRPCTransport(n)
		pool[n] = tr
		return tr
	}
	d := dispatch.New(transports, cfg.DefaultTimeout(), logger)
	d.Metrics = collector
	p := proxy.New(d, view.Unbooted, logger)
	defer p.Terminate()

	spawner := spawn.New(logger)
	lc := lifecycle.New(p, spawner, cfg.ClientID(), logger)
	pm := process.New(p, cfg.ClientID())
	pm.Metrics = collector
	pkg := packager.New()

	ctx := context.Background()

	switch {
	case *bootAddrs != "":
		nodes := parseNodeAddrs(*bootAddrs)
		if err := lc.Boot(ctx, lifecycle.BootConfiguration{Nodes: nodes}); err != nil {
			logger.Error("gobracectl: boot failed", "error", err)
			os.Exit(1)
		}
		logger.Info("gobracectl: cluster booted", "nodes", len(nodes))

	case *attachAddr != "":
		if err := lc.Attach(ctx, node.NewRef(*attachAddr)); err != nil {
			logger.Error("gobracectl: attach failed", "error", err)
			os.Exit(1)
		}
		logger.Info("gobracectl: attached", "addr", *attachAddr)
	}

	if *submit {
		if err := runDemoComputation(ctx, pkg, pm, cfg.ClientID(), logger); err != nil {
			logger.Error("gobracectl: demo computation failed", "error", err)
			os.Exit(1)
		}
	}

	if *shutdown {
		if err := lc.Shutdown(ctx); err != nil {
			logger.Error("gobracectl: shutdown failed", "error", err)
			os.Exit(1)
		}
		logger.Info("gobracectl: cluster shut down")
	}
}

func settingsDefaults() settings.AppConfig {
	return settings.AppConfig{}
}

func parseNodeAddrs(csv string) []node.Ref {
	parts := strings.Split(csv, ",")
	refs := make([]node.Ref, 0, len(parts))
	for _, p := range parts {
		addr := strings.TrimSpace(p)
		if addr == "" {
			continue
		}
		refs = append(refs, node.NewRef(addr))
	}
	return refs
}

func runDemoComputation(ctx context.Context, pkg *packager.Packager, pm *process.Manager, clientID uuid.UUID, logger *slog.Logger) error {
	img, warnings, err := pkg.Package(packager.Input{
		ClientID:      clientID,
		Payload:       []byte("demo computation payload"),
		ReturnTypeTag: "string",
	})
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warn("gobracectl: packaging warning", "message", w.Message)
	}

	handle, err := pm.CreateProcess(ctx, img)
	if err != nil {
		return err
	}
	logger.Info("gobracectl: process created", "id", handle.Id().String())

	result, err := handle.AwaitResultAsync(ctx, 30*time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("result: %s\n", string(result))
	return nil
}
