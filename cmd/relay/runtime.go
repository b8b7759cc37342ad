package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/coordinator"
	"github.com/ShayCichocki/relay/internal/metrics"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/statesync"
)

// openDB opens the project database that holds the coordinator.
func openDB() (*state.DB, error) {
	db, err := state.OpenWithDriver(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// loadCoordinator rebuilds the coordinator saved in db.
func loadCoordinator(ctx context.Context, db *state.DB, opts ...coordinator.Option) (*coordinator.Coordinator, error) {
	saved, err := db.LoadCoordinator(ctx)
	if err != nil {
		return nil, fmt.Errorf("load coordinator: %w", err)
	}

	opts = append([]coordinator.Option{
		coordinator.WithName(cfg.Coordinator.Name),
		coordinator.WithLogger(logger),
	}, opts...)
	c := coordinator.New(opts...)

	if saved.TaskCounter == 0 && len(saved.ActiveTasks) == 0 {
		return c, nil
	}
	if err := c.Restore(saved); err != nil {
		return nil, fmt.Errorf("restore coordinator: %w", err)
	}
	return c, nil
}

// withCoordinator loads the coordinator, runs fn, and saves the result when
// fn succeeds and mutate is set. With metrics.push_url configured, task
// counters from a mutating run are pushed to the gateway afterwards.
func withCoordinator(ctx context.Context, mutate bool, fn func(*coordinator.Coordinator) error) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		opts      []coordinator.Option
		collector *metrics.Collector
	)
	if mutate && cfg.Metrics.PushURL != "" {
		collector = metrics.NewCollector(nil, logger)
		opts = append(opts, coordinator.WithRecorder(collector))
	}

	c, err := loadCoordinator(ctx, db, opts...)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	if !mutate {
		return nil
	}
	if err := db.SaveCoordinator(ctx, c.Export()); err != nil {
		return fmt.Errorf("save coordinator: %w", err)
	}
	if collector != nil {
		pushMetrics(ctx, collector)
	}
	return nil
}

// pushMetrics reports to the Pushgateway. Failures are logged, not returned:
// the task change is already saved.
func pushMetrics(ctx context.Context, collector *metrics.Collector) {
	grouping := map[string]string{"coordinator": cfg.Coordinator.Name}
	if err := collector.Push(ctx, cfg.Metrics.PushURL, "relay", grouping); err != nil {
		logger.Warn("metrics push failed", zap.Error(err))
	}
}

// openSynchronizer connects the configured snapshot store.
func openSynchronizer(ctx context.Context, opts ...statesync.Option) (*statesync.Synchronizer, func() error, error) {
	store, err := state.NewSnapshotStore(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot store: %w", err)
	}
	opts = append([]statesync.Option{statesync.WithLogger(logger)}, opts...)
	return statesync.New(store, opts...), store.Close, nil
}

// readPayload decodes JSON from a file, or from stdin when path is "-".
// Numbers are kept as json.Number.
func readPayload(in io.Reader, path string) (any, error) {
	var r io.Reader
	if path == "-" {
		r = in
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open payload: %w", err)
		}
		defer f.Close()
		r = f
	}

	var v any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
