package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/statesync"
	"github.com/ShayCichocki/relay/pkg/models"
)

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *countingRecorder) FileProcessed(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[result]++
}

func (r *countingRecorder) count(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

// slowProcessor tracks peak concurrency.
type slowProcessor struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
}

func (p *slowProcessor) ProcessExternalState(ctx context.Context, raw any, kind models.StateKind, graphID, threadID string) (map[string]any, error) {
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(p.delay)
	return raw.(map[string]any), nil
}

func writeEnvelope(t *testing.T, dir, name string, env Envelope) string {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func basicEnvelope(counter int) Envelope {
	return Envelope{
		GraphID:  "g",
		ThreadID: "t",
		Kind:     "basic",
		State:    map[string]any{"messages": []any{"hi"}, "counter": counter},
	}
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantKind models.StateKind
		wantErr  bool
	}{
		{"basic", `{"graph_id":"g","kind":"basic","state":{}}`, models.StateKindBasic, false},
		{"kind defaults to complex", `{"graph_id":"g","state":{"a":1}}`, models.StateKindComplex, false},
		{"missing graph", `{"kind":"basic","state":{}}`, "", true},
		{"missing state", `{"graph_id":"g","kind":"basic"}`, "", true},
		{"unknown kind", `{"graph_id":"g","kind":"graph","state":{}}`, "", true},
		{"not json", `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, kind, err := ParseEnvelope([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidEnvelope))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestDrain_MovesFiles(t *testing.T) {
	dir := t.TempDir()
	store := state.NewMemoryStore()
	syncer := statesync.New(store)
	rec := &countingRecorder{}
	w := New(dir, syncer, WithRecorder(rec), WithSettle(0))

	writeEnvelope(t, dir, "a.json", basicEnvelope(1))
	writeEnvelope(t, dir, "b.json", basicEnvelope(2))
	bad := basicEnvelope(3)
	bad.State = map[string]any{"messages": "nope", "counter": 1}
	writeEnvelope(t, dir, "bad.json", bad)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644))

	summary, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2, Failed: 1}, summary)

	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "a.json"))
	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "b.json"))
	assert.FileExists(t, filepath.Join(dir, FailedDir, "bad.json"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "a.json"))

	reason, err := os.ReadFile(filepath.Join(dir, FailedDir, "bad.json.error"))
	require.NoError(t, err)
	assert.Contains(t, string(reason), "messages")

	metas, err := store.ListSnapshots(context.Background(), state.SnapshotFilter{GraphID: "g", ThreadID: "t"})
	require.NoError(t, err)
	assert.Len(t, metas, 2)

	assert.Equal(t, 2, rec.count(ResultProcessed))
	assert.Equal(t, 1, rec.count(ResultFailed))
}

func TestDrain_RespectsConcurrency(t *testing.T) {
	dir := t.TempDir()
	proc := &slowProcessor{delay: 30 * time.Millisecond}
	w := New(dir, proc, WithConcurrency(2), WithSettle(0))

	for i := 0; i < 6; i++ {
		env := basicEnvelope(i)
		env.ThreadID = fmt.Sprintf("t%d", i)
		writeEnvelope(t, dir, string(rune('a'+i))+".json", env)
	}

	summary, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Processed)
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
}

func TestDrain_SamePairRunsInNameOrder(t *testing.T) {
	dir := t.TempDir()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	const files = 40
	for i := 0; i < files; i++ {
		writeEnvelope(t, dir, fmt.Sprintf("s%03d.json", i), basicEnvelope(i))
	}
	other := basicEnvelope(100)
	other.ThreadID = "other"
	writeEnvelope(t, dir, "s999.json", other)

	syncer := statesync.New(db)
	w := New(dir, syncer, WithConcurrency(4), WithSettle(0))

	summary, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: files + 1}, summary)

	ctx := context.Background()
	metas, err := syncer.ListSnapshots(ctx, "g", "t")
	require.NoError(t, err)
	require.Len(t, metas, files)

	seen := make(map[int]bool)
	for _, m := range metas {
		assert.False(t, seen[m.Version], "version %d allocated twice", m.Version)
		seen[m.Version] = true
	}
	assert.Equal(t, files, metas[0].Version)

	latest, err := syncer.LoadSnapshot(ctx, metas[0].StateID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, json.Number(fmt.Sprint(files-1)), latest.State["counter"], "newest snapshot comes from the last file")

	merged := syncer.SynchronizeCheckpoint(ctx, "g", "t", map[string]any{"extra": true})
	assert.Equal(t, json.Number(fmt.Sprint(files-1)), merged["counter"])
}

func TestDrain_SamePairNeverOverlaps(t *testing.T) {
	dir := t.TempDir()
	proc := &slowProcessor{delay: 10 * time.Millisecond}
	w := New(dir, proc, WithConcurrency(4), WithSettle(0))

	for i := 0; i < 5; i++ {
		writeEnvelope(t, dir, fmt.Sprintf("f%d.json", i), basicEnvelope(i))
	}

	summary, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, int32(1), proc.peak.Load())
}

func TestGroupByPair(t *testing.T) {
	dir := t.TempDir()
	a1 := writeEnvelope(t, dir, "1.json", basicEnvelope(1))
	other := basicEnvelope(2)
	other.ThreadID = "u"
	b1 := writeEnvelope(t, dir, "2.json", other)
	a2 := writeEnvelope(t, dir, "3.json", basicEnvelope(3))
	broken := filepath.Join(dir, "4.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0644))

	groups := groupByPair([]string{a1, b1, a2, broken})
	assert.Equal(t, [][]string{{a1, a2}, {b1}, {broken}}, groups)
}

func TestDrain_EmptyInboxCreatesDirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	w := New(dir, &slowProcessor{}, WithSettle(0))

	summary, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.DirExists(t, filepath.Join(dir, ProcessedDir))
	assert.DirExists(t, filepath.Join(dir, FailedDir))
}

func TestRun_PicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	store := state.NewMemoryStore()
	w := New(dir, statesync.New(store), WithSettle(20*time.Millisecond))

	writeEnvelope(t, dir, "existing.json", basicEnvelope(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, ProcessedDir, "existing.json"))
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	// Write via rename so the watcher never sees a partial file.
	tmp := writeEnvelope(t, dir, ".incoming.tmp", basicEnvelope(2))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "new.json")))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, ProcessedDir, "new.json"))
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	metas, err := store.ListSnapshots(context.Background(), state.SnapshotFilter{GraphID: "g"})
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}
