package sqliteengine

import (
	"context"
	"time"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
)

// Logger interface for pool lifecycle logging, admission warnings, and error
// reporting. The variadic args are alternating key/value pairs, compatible
// with log/slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger interface for context-aware logging with automatic trace
// correlation. It follows the same dependency-free pattern as Logger and
// MetricsCollector and is preferred over Logger on acquisition paths, where
// a caller context is available.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector interface for collecting pool performance and operational
// metrics. It is dependency-free so users can integrate with any metrics
// backend (Prometheus, OpenTelemetry, StatsD, etc.) by implementing it.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// Option defines a functional option for configuring a PoolManager.
type Option func(*PoolManager) error

// WithSettings sets the process-wide pool settings. Zero-valued knobs are
// filled with their defaults.
func WithSettings(settings sqlitepool.Settings) Option {
	return func(pm *PoolManager) error {
		pm.settings = settings.Normalized()
		return nil
	}
}

// WithLogger sets the logger for the PoolManager.
//
// Debug level: handle creation/reuse, cursor finalization issues (development use)
// Info level: evictions, quarantine moves, release-all (production-safe)
// Warn level: admission budget expiry, dropped subscriber batches, close failures
// Error level: exhausted creation attempts and teardown failures.
func WithLogger(logger Logger) Option {
	return func(pm *PoolManager) error {
		pm.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for the PoolManager.
// On acquisition paths it takes precedence over the plain logger; paths
// without a caller context (disposal, sweeps) keep using the plain logger.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(pm *PoolManager) error {
		pm.ctxLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the PoolManager. The collector
// will receive counters for handle creation, eviction, quarantine moves,
// writer over-admission and debounce flushes, plus acquisition wait durations.
func WithMetrics(collector MetricsCollector) Option {
	return func(pm *PoolManager) error {
		pm.metrics = collector
		return nil
	}
}
