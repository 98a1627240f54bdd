// Package obslog provides an optional, injectable structured logger for
// diagnostic-only events (a fragment written, a work item copied, a
// sorted-reader slab materialized, a slab over its soft size ceiling).
// It is never used to
// report errors that are also returned to a caller.
//
// The teacher (sixy6e/go-gsf) logs with the standard log package at CLI
// call sites; a library core that runs inside caller goroutines shouldn't
// force output configuration on import, so this wraps a *zap.SugaredLogger
// behind a package-level, swappable no-op default, the way
// protomaps-go-pmtiles wires zap for its tile server.
package obslog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger = zap.NewNop().Sugar()
)

// SetLogger installs l as the package-wide diagnostic logger. Passing nil
// restores the no-op default.
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	log = l
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debugw logs a diagnostic event with structured key/value pairs.
func Debugw(msg string, kv ...any) { get().Debugw(msg, kv...) }

// Infow logs a notable, non-error diagnostic event.
func Infow(msg string, kv ...any) { get().Infow(msg, kv...) }

// Warnw logs a degraded-but-recovered condition, such as a sorted-reader
// slab whose materialized size exceeds the configured soft ceiling.
func Warnw(msg string, kv ...any) { get().Warnw(msg, kv...) }
