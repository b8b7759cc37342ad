// Package metrics exposes relay's Prometheus counters.
//
// Collector satisfies the recorder interfaces of the coordinator, the state
// synchronizer and the inbox watcher, so each component stays unaware of
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace prefixes every metric name.
const Namespace = "relay"

// Collector holds the counters.
type Collector struct {
	tasksCreated    *prometheus.CounterVec
	taskTransitions *prometheus.CounterVec
	snapshotsSaved  *prometheus.CounterVec
	stateRejections *prometheus.CounterVec
	checkpointSyncs *prometheus.CounterVec
	inboxFiles      *prometheus.CounterVec

	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewCollector registers the counters on reg. A nil reg gets a fresh
// registry so repeated construction in tests does not collide.
func NewCollector(reg *prometheus.Registry, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		tasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tasks_created_total",
			Help:      "Tasks created, by kind",
		}, []string{"kind"}),
		taskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_transitions_total",
			Help:      "Task status changes, by new status",
		}, []string{"status"}),
		snapshotsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "snapshots_saved_total",
			Help:      "State snapshots persisted, by state kind",
		}, []string{"kind"}),
		stateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "state_rejections_total",
			Help:      "External states rejected, by reason",
		}, []string{"reason"}),
		checkpointSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "checkpoint_sync_total",
			Help:      "Checkpoint synchronizations, by outcome",
		}, []string{"outcome"}),
		inboxFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "inbox_files_total",
			Help:      "Inbox files handled, by result",
		}, []string{"result"}),
		gatherer: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}
}

// TaskCreated implements coordinator.Recorder.
func (c *Collector) TaskCreated(kind string) {
	c.tasksCreated.WithLabelValues(kind).Inc()
}

// TaskTransitioned implements coordinator.Recorder.
func (c *Collector) TaskTransitioned(status string) {
	c.taskTransitions.WithLabelValues(status).Inc()
}

// SnapshotSaved implements statesync.Recorder.
func (c *Collector) SnapshotSaved(kind string) {
	c.snapshotsSaved.WithLabelValues(kind).Inc()
}

// StateRejected implements statesync.Recorder.
func (c *Collector) StateRejected(reason string) {
	c.stateRejections.WithLabelValues(reason).Inc()
}

// CheckpointSynced implements statesync.Recorder.
func (c *Collector) CheckpointSynced(outcome string) {
	c.checkpointSyncs.WithLabelValues(outcome).Inc()
}

// FileProcessed implements inbox.Recorder.
func (c *Collector) FileProcessed(result string) {
	c.inboxFiles.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(c.logger),
	})
}
