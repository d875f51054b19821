package sqliteengine

import (
	"context"
	"math"
	"time"
)

const (
	logMsgHandleCreated            = "created native handle"
	logMsgReadCreateAttemptFailed  = "creating read handle failed, retrying"
	logMsgReadCreateExhausted      = "all read handle creation attempts failed"
	logMsgWriteCreateFailed        = "creating write handle failed"
	logMsgAdmissionBudgetExpired   = "writer admission budget expired, proceeding anyway"
	logMsgReadHandlesEvicted       = "evicted oldest read handles"
	logMsgWriteHandlesEvicted      = "evicted closed or errored write handles"
	logMsgHandleQuarantined        = "handle mid-transaction, quarantined for deferred disposal"
	logMsgHandleCloseFailed        = "closing native handle failed"
	logMsgEngineConfigureFailed    = "one-time engine configuration failed"
	logMsgSubscriberBatchesDropped = "subscriber buffers full, dropped change batches"
	logMsgReleaseAllStarted        = "releasing all handles"
	logMsgReleaseAllFinished       = "released all handles"

	logAttrError       = "error"
	logAttrHandleID    = "handle_id"
	logAttrAttempt     = "attempt"
	logAttrAttempts    = "attempts"
	logAttrCount       = "count"
	logAttrWaitedMS    = "waited_ms"
	logAttrLiveWriters = "live_writers"

	metricHandlesCreated    = "sqlitepool_handles_created"
	metricHandlesEvicted    = "sqlitepool_handles_evicted"
	metricHandlesQuarantine = "sqlitepool_handles_quarantined"
	metricCreateFailures    = "sqlitepool_handle_create_failures"
	metricOverAdmissions    = "sqlitepool_writer_over_admissions"
	metricAdmissionWait     = "sqlitepool_writer_admission_wait"
	metricChangeFlushes     = "sqlitepool_change_flushes"
	metricDroppedBatches    = "sqlitepool_dropped_change_batches"

	labelPool      = "pool"
	poolLabelRead  = "read"
	poolLabelWrite = "write"
)

// logDebug logs at debug level if a logger is configured.
func (pm *PoolManager) logDebug(msg string, args ...any) {
	if pm.logger != nil {
		pm.logger.Debug(msg, args...)
	}
}

// logInfo logs at info level if a logger is configured.
func (pm *PoolManager) logInfo(msg string, args ...any) {
	if pm.logger != nil {
		pm.logger.Info(msg, args...)
	}
}

// logWarn logs at warn level if a logger is configured.
func (pm *PoolManager) logWarn(msg string, args ...any) {
	if pm.logger != nil {
		pm.logger.Warn(msg, args...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (pm *PoolManager) logError(msg string, err error, args ...any) {
	if pm.logger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		pm.logger.Error(msg, allArgs...)
	}
}

// logDebugCtx prefers the contextual logger when one is configured; without
// one it falls back to the plain logger.
func (pm *PoolManager) logDebugCtx(ctx context.Context, msg string, args ...any) {
	if pm.ctxLogger != nil {
		pm.ctxLogger.DebugContext(ctx, msg, args...)
		return
	}

	pm.logDebug(msg, args...)
}

// logWarnCtx prefers the contextual logger when one is configured.
func (pm *PoolManager) logWarnCtx(ctx context.Context, msg string, args ...any) {
	if pm.ctxLogger != nil {
		pm.ctxLogger.WarnContext(ctx, msg, args...)
		return
	}

	pm.logWarn(msg, args...)
}

// logErrorCtx prefers the contextual logger when one is configured.
func (pm *PoolManager) logErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	if pm.ctxLogger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		pm.ctxLogger.ErrorContext(ctx, msg, allArgs...)

		return
	}

	pm.logError(msg, err, args...)
}

// incrementCounter records a counter metric if a collector is configured.
func (pm *PoolManager) incrementCounter(metric string, labels map[string]string) {
	if pm.metrics != nil {
		pm.metrics.IncrementCounter(metric, labels)
	}
}

// recordDuration records a duration metric if a collector is configured.
func (pm *PoolManager) recordDuration(metric string, duration time.Duration, labels map[string]string) {
	if pm.metrics != nil {
		pm.metrics.RecordDuration(metric, duration, labels)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func poolLabels(pool string) map[string]string {
	return map[string]string{labelPool: pool}
}
