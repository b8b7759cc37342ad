// Package inbox ingests state files dropped by the external orchestrator.
//
// Each *.json file in the inbox directory holds one Envelope. Handled files
// are moved to processed/ or failed/; a failed file gets a .error sidecar
// with the reason.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/relay/internal/keylock"
	"github.com/ShayCichocki/relay/pkg/models"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"

	ResultProcessed = "processed"
	ResultFailed    = "failed"

	defaultConcurrency = 4
	defaultSettle      = 100 * time.Millisecond
)

// Processor persists one external state. *statesync.Synchronizer satisfies it.
type Processor interface {
	ProcessExternalState(ctx context.Context, raw any, kind models.StateKind, graphID, threadID string) (map[string]any, error)
}

// Recorder receives one call per handled file.
type Recorder interface {
	FileProcessed(result string)
}

type nopRecorder struct{}

func (nopRecorder) FileProcessed(string) {}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Watcher) {
		if r != nil {
			w.recorder = r
		}
	}
}

// WithConcurrency bounds how many files are processed at once.
func WithConcurrency(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithSettle sets how long a file must sit after an event before it is read.
// Writers that rename into the inbox can use zero.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

// Summary counts the outcome of a Drain.
type Summary struct {
	Processed int
	Failed    int
}

// Watcher moves inbox files through a Processor.
type Watcher struct {
	dir         string
	proc        Processor
	logger      *zap.Logger
	recorder    Recorder
	concurrency int
	settle      time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	pairs    keylock.Map
}

// New creates a watcher for dir.
func New(dir string, proc Processor, opts ...Option) *Watcher {
	w := &Watcher{
		dir:         dir,
		proc:        proc,
		logger:      zap.NewNop(),
		recorder:    nopRecorder{},
		concurrency: defaultConcurrency,
		settle:      defaultSettle,
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "inbox"), zap.String("dir", dir))
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Drain processes every envelope already in the inbox and returns when all
// of them have been moved. Files sharing a graph/thread pair are handled one
// at a time in name order; different pairs run concurrently.
func (w *Watcher) Drain(ctx context.Context) (Summary, error) {
	if err := w.ensureDirs(); err != nil {
		return Summary{}, err
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return Summary{}, fmt.Errorf("read inbox: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && isEnvelopeName(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, group := range groupByPair(paths) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Files for one pair run in name order so the newest snapshot
			// comes from the last file.
			for _, path := range group {
				if gctx.Err() != nil {
					return nil
				}
				switch w.handle(gctx, path) {
				case ResultProcessed:
					processed.Add(1)
				case ResultFailed:
					failed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Processed: int(processed.Load()), Failed: int(failed.Load())}
	w.logger.Info("inbox drained", zap.Int("processed", summary.Processed), zap.Int("failed", summary.Failed))
	return summary, ctx.Err()
}

// Run drains the inbox and then handles new files as they appear, until ctx
// is cancelled. Files for the same graph/thread pair never reach the
// Processor at the same time. Cancellation is not an error.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.ensureDirs(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch before draining so files that land during the drain are seen.
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	if _, err := w.Drain(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Dir(event.Name) != filepath.Clean(w.dir) || !isEnvelopeName(filepath.Base(event.Name)) {
				continue
			}
			path := event.Name
			g.Go(func() error {
				w.handle(ctx, path)
				return nil
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// handle processes one file and returns its result, or "" when the file was
// skipped because another goroutine owns it or it is already gone.
func (w *Watcher) handle(ctx context.Context, path string) string {
	if !w.claim(path) {
		return ""
	}
	defer w.release(path)

	if w.settle > 0 {
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(w.settle):
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ""
		}
		w.fail(path, err)
		return ResultFailed
	}

	env, kind, err := ParseEnvelope(data)
	if err != nil {
		w.fail(path, err)
		return ResultFailed
	}

	unlock := w.pairs.Lock(keylock.Pair(env.GraphID, env.ThreadID))
	result, err := w.proc.ProcessExternalState(ctx, env.State, kind, env.GraphID, env.ThreadID)
	unlock()
	if err != nil {
		w.fail(path, err)
		return ResultFailed
	}

	if err := w.move(path, ProcessedDir); err != nil {
		w.logger.Error("move processed file", zap.String("file", path), zap.Error(err))
	}
	w.recorder.FileProcessed(ResultProcessed)
	w.logger.Info("inbox file processed",
		zap.String("file", filepath.Base(path)),
		zap.String("graph_id", env.GraphID),
		zap.String("thread_id", env.ThreadID),
		zap.Int("keys", len(result)))
	return ResultProcessed
}

func (w *Watcher) fail(path string, cause error) {
	w.recorder.FileProcessed(ResultFailed)
	w.logger.Error("inbox file rejected", zap.String("file", filepath.Base(path)), zap.Error(cause))

	if err := w.move(path, FailedDir); err != nil {
		w.logger.Error("move failed file", zap.String("file", path), zap.Error(err))
		return
	}
	sidecar := filepath.Join(w.dir, FailedDir, filepath.Base(path)+".error")
	if err := os.WriteFile(sidecar, []byte(cause.Error()+"\n"), 0644); err != nil {
		w.logger.Error("write error sidecar", zap.String("file", sidecar), zap.Error(err))
	}
}

func (w *Watcher) move(path, sub string) error {
	return os.Rename(path, filepath.Join(w.dir, sub, filepath.Base(path)))
}

func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[path]; busy {
		return false
	}
	w.inflight[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

func (w *Watcher) ensureDirs() error {
	for _, dir := range []string{w.dir, filepath.Join(w.dir, ProcessedDir), filepath.Join(w.dir, FailedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// groupByPair buckets sorted paths by the graph/thread pair in each file,
// keeping name order inside a bucket and first-seen order across buckets.
// A file whose pair cannot be read gets a bucket of its own and fails later
// in handle.
func groupByPair(paths []string) [][]string {
	var (
		order  []string
		groups = make(map[string][]string)
	)
	for _, path := range paths {
		key := path
		if data, err := os.ReadFile(path); err == nil {
			var head struct {
				GraphID  string `json:"graph_id"`
				ThreadID string `json:"thread_id"`
			}
			if json.Unmarshal(data, &head) == nil && head.GraphID != "" {
				key = keylock.Pair(head.GraphID, head.ThreadID)
			}
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], path)
	}

	out := make([][]string, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

func isEnvelopeName(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
