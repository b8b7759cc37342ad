package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/relay/internal/inbox"
	"github.com/ShayCichocki/relay/internal/metrics"
	"github.com/ShayCichocki/relay/internal/statesync"
)

var (
	watchDir         string
	watchMetricsAddr string
	watchOnce        bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest state files dropped into the inbox directory",
	Long: `Watch the inbox directory for envelope files written by the external
orchestrator:

  {"graph_id": "...", "thread_id": "...", "kind": "basic", "state": {...}}

Each file is validated and stored as a snapshot, then moved to processed/
or, with a .error file describing the problem, to failed/. Writers should
create files under another name and rename them to *.json when complete.

With --metrics-addr, Prometheus metrics are served at /metrics.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Inbox directory (default from config)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default from config)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Process files already present and exit")
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := watchDir
	if dir == "" {
		dir = cfg.Inbox.Dir
	}
	addr := watchMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, logger)

	syncer, closeStore, err := openSynchronizer(ctx, statesync.WithRecorder(collector))
	if err != nil {
		return err
	}
	defer closeStore()

	w := inbox.New(dir, syncer,
		inbox.WithLogger(logger),
		inbox.WithRecorder(collector),
		inbox.WithConcurrency(cfg.Inbox.Concurrency),
	)

	if watchOnce {
		summary, err := w.Drain(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Processed %d, failed %d\n", summary.Processed, summary.Failed)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if addr != "" {
		g.Go(func() error { return collector.Serve(gctx, addr) })
	}
	g.Go(func() error {
		logger.Info("watching inbox", zap.String("dir", dir))
		err := w.Run(gctx)
		// Stop the metrics server once the watcher exits.
		stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
