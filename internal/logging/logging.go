// Package logging builds the zap loggers used across relay.
//
// Human-readable output goes to stderr. When a file is configured, the same
// entries are also written there as JSON, one object per line.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// File is an optional JSON log file. Parent directories are created.
	File string
	// Development enables caller annotations and stack traces on warnings.
	Development bool
	// Console overrides stderr for the console encoder.
	Console io.Writer
}

// New builds a logger from opts. The returned close function flushes the
// logger and closes the log file; it is safe to call more than once.
func New(opts Options) (*zap.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if opts.Development {
		consoleCfg = zap.NewDevelopmentEncoderConfig()
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(console), level),
	}

	var file *os.File
	if opts.File != "" {
		file, err = openLogFile(opts.File)
		if err != nil {
			return nil, nil, err
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(file), level))
	}

	zopts := []zap.Option{}
	if opts.Development {
		zopts = append(zopts, zap.AddCaller(), zap.AddStacktrace(zapcore.WarnLevel), zap.Development())
	}
	logger := zap.New(zapcore.NewTee(cores...), zopts...)

	closed := false
	closeFn := func() error {
		if closed {
			return nil
		}
		closed = true
		// Sync on stderr fails with EINVAL on some platforms; only the file matters.
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

// ParseLevel converts a level name to a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	if strings.TrimSpace(name) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// ForRepo returns the default log file location under a project root.
func ForRepo(projectRoot string) string {
	return filepath.Join(projectRoot, ".relay", "logs", "relay.log")
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
