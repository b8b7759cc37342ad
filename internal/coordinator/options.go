package coordinator

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*coordinatorOptions)

type coordinatorOptions struct {
	name     string
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// WithName sets the name reported in system status.
func WithName(name string) Option {
	return func(o *coordinatorOptions) { o.name = name }
}

// WithLogger sets the logger. A nil logger is replaced by a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *coordinatorOptions) { o.logger = l }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *coordinatorOptions) { o.recorder = r }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *coordinatorOptions) { o.now = now }
}

// Recorder receives task lifecycle events.
type Recorder interface {
	TaskCreated(kind string)
	TaskTransitioned(status string)
}

type nopRecorder struct{}

func (nopRecorder) TaskCreated(string)      {}
func (nopRecorder) TaskTransitioned(string) {}
