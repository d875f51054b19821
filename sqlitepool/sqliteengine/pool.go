package sqliteengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool/sqliteengine/internal/adapters"
)

// PoolManager arbitrates concurrent access to native engine handles for one
// database file under the single-writer/many-readers constraint.
//
// It maintains a read-handle pool and a read-write-handle pool with separate
// hard capacities, enforces the writer live-concurrency ceiling through a
// bounded admission poll, and wires non-background write handles to the
// change-event debouncer whose batches reach subscribers via Subscribe.
//
// All methods are safe for concurrent use from multiple goroutines. The two
// pool locks serialize eviction and bookkeeping only; the releasing and busy
// flags are read without a lock as admission hints, not correctness
// guarantees, because the engine already serializes actual writes at the
// handle level.
type PoolManager struct {
	path      string
	settings  sqlitepool.Settings
	connector adapters.Connector
	logger    Logger
	ctxLogger ContextualLogger
	metrics   MetricsCollector

	readMu   sync.Mutex
	readPool []*Handle

	writeMu   sync.Mutex
	writePool []*Handle

	quarantineMu sync.Mutex
	quarantine   []*Handle

	releasing atomic.Bool
	busy      atomic.Bool
	optimized atomic.Bool

	aggregator  *changeAggregator
	subscribers *subscriberRegistry

	disposals sync.WaitGroup
}

// PoolStats is a point-in-time snapshot of the pool bookkeeping.
type PoolStats struct {
	ReadPoolSize   int
	WritePoolSize  int
	QuarantineSize int
	LiveWriters    int
}

// NewPoolManager creates a pool manager for the database file at path with
// optional configuration.
func NewPoolManager(path string, options ...Option) (*PoolManager, error) {
	if path == "" {
		return nil, sqlitepool.ErrEmptyDatabasePath
	}

	pm := &PoolManager{
		path:     path,
		settings: sqlitepool.DefaultSettings(),
	}

	for _, option := range options {
		if err := option(pm); err != nil {
			return nil, err
		}
	}

	if pm.connector == nil {
		pm.connector = adapters.NewSQLiteConnector(pm.settings.BusyTimeout())
	}

	pm.subscribers = newSubscriberRegistry(pm.settings.SubscriberBuffer)
	pm.aggregator = newChangeAggregator(pm.settings.DebounceDelay(), pm.settings.DebounceFallback(), pm.publishBatch)

	return pm, nil
}

// AcquireRead opens a new read-only handle.
//
// When the read pool has reached its hard capacity, the oldest eviction
// chunk is disposed and the quarantine set is swept before creation. Handle
// creation is retried up to the configured attempt budget; if every attempt
// fails the error wraps sqlitepool.ErrPoolExhausted — an expected transient
// condition the caller recovers from by retrying later.
//
// The new handle is registered into the pool asynchronously so acquisition
// latency is not blocked by bookkeeping.
func (pm *PoolManager) AcquireRead(ctx context.Context) (*Handle, error) {
	if pm.releasing.Load() {
		return nil, sqlitepool.ErrPoolReleasing
	}

	pm.evictReadOverflow()

	var lastErr error

	attempts := pm.settings.ReadCreateAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := pm.connector.Connect(pm.path, false)
		if err != nil {
			lastErr = err
			pm.logWarnCtx(ctx, logMsgReadCreateAttemptFailed, logAttrAttempt, attempt, logAttrError, err.Error())
			pm.incrementCounter(metricCreateFailures, poolLabels(poolLabelRead))

			continue
		}

		handle := newHandle(conn, false)
		pm.registerReadAsync(handle)
		pm.logDebugCtx(ctx, logMsgHandleCreated, logAttrHandleID, handle.ID().String(), labelPool, poolLabelRead)
		pm.incrementCounter(metricHandlesCreated, poolLabels(poolLabelRead))

		return handle, nil
	}

	pm.logErrorCtx(ctx, logMsgReadCreateExhausted, lastErr, logAttrAttempts, attempts)

	return nil, errors.Join(sqlitepool.ErrPoolExhausted, lastErr)
}

// AcquireReadWrite opens a new read-write handle.
//
// Before creation the call waits in a bounded poll loop while the busy flag
// is set or the live-concurrency ceiling is reached. Exceeding the poll
// budget does not fail the call: capacity is advisory, and proceeding
// anyway trades possible over-concurrency for freedom from deadlock when
// bookkeeping lags reality.
//
// Unless background is true, the handle's native mutation hook is wired to
// the change-event debouncer; background handles are intentionally silent so
// background activity does not wake foreground observers.
func (pm *PoolManager) AcquireReadWrite(ctx context.Context, background bool) (*Handle, error) {
	if pm.releasing.Load() {
		return nil, sqlitepool.ErrPoolReleasing
	}

	waited, admitted, err := pm.awaitWriterAdmission(ctx)
	if err != nil {
		return nil, err
	}

	pm.recordDuration(metricAdmissionWait, waited, poolLabels(poolLabelWrite))

	if !admitted {
		pm.logWarnCtx(ctx, logMsgAdmissionBudgetExpired,
			logAttrAttempts, pm.settings.WriteAdmissionMaxAttempts,
			logAttrWaitedMS, toMilliseconds(waited),
			logAttrLiveWriters, pm.countLiveWriters())
		pm.incrementCounter(metricOverAdmissions, nil)
	}

	pm.evictWriteOverflow()

	conn, err := pm.connector.Connect(pm.path, true)
	if err != nil {
		pm.logErrorCtx(ctx, logMsgWriteCreateFailed, err)
		pm.incrementCounter(metricCreateFailures, poolLabels(poolLabelWrite))

		return nil, errors.Join(sqlitepool.ErrPoolExhausted, err)
	}

	handle := newHandle(conn, true)
	pm.logDebugCtx(ctx, logMsgHandleCreated, logAttrHandleID, handle.ID().String(), labelPool, poolLabelWrite)

	pm.configureEngineOnce(ctx, handle)

	if !background {
		conn.RegisterUpdateHook(pm.onRawChange)
	}

	pm.writeMu.Lock()
	pm.writePool = append(pm.writePool, handle)
	pm.writeMu.Unlock()

	pm.incrementCounter(metricHandlesCreated, poolLabels(poolLabelWrite))

	return handle, nil
}

// Release gives a handle back to the pool manager for disposal. Disposal
// runs off the caller's path, so Release never blocks.
//
// The disposal policy is asymmetric: a handle that is mid-transaction and
// error-free is quarantined for a later retry instead of being destroyed,
// because tearing down a live transaction handle risks an inconsistent
// write-ahead journal. Every other handle is closed immediately.
func (pm *PoolManager) Release(handle *Handle) {
	if handle == nil {
		return
	}

	pm.releaseAsync(handle)
}

// ReleaseAll disposes every handle in both pools and sweeps the quarantine
// set, then resets the pool state. New acquisitions short-circuit with
// sqlitepool.ErrPoolReleasing while the teardown runs, and the one-time
// engine configuration re-runs on the next write acquisition.
//
// Teardown failures are isolated per pool: a failure disposing one pool
// never prevents clearing the others, and the releasing flag is always
// cleared on exit.
func (pm *PoolManager) ReleaseAll() error {
	if pm.releasing.Swap(true) {
		return sqlitepool.ErrPoolReleasing
	}
	defer pm.releasing.Store(false)

	pm.logInfo(logMsgReleaseAllStarted)

	// let in-flight asynchronous disposals settle first
	pm.disposals.Wait()

	readErr := pm.drainPool(&pm.readMu, &pm.readPool)
	writeErr := pm.drainPool(&pm.writeMu, &pm.writePool)

	pm.sweepQuarantine()

	pm.optimized.Store(false)

	pm.logInfo(logMsgReleaseAllFinished)

	return errors.Join(readErr, writeErr)
}

// Shutdown releases every handle and permanently stops the change-event
// machinery, closing all subscriber channels.
func (pm *PoolManager) Shutdown() error {
	err := pm.ReleaseAll()

	pm.aggregator.stop()
	pm.subscribers.closeAll()

	return err
}

// Subscribe registers a consumer of the batched change-event stream.
func (pm *PoolManager) Subscribe() *Subscription {
	return pm.subscribers.subscribe()
}

// SetBusy sets or clears the process-wide busy hint that stalls writer
// admission, e.g. around a backup or vacuum.
func (pm *PoolManager) SetBusy(busy bool) {
	pm.busy.Store(busy)
}

// Stats returns a snapshot of the pool bookkeeping.
func (pm *PoolManager) Stats() PoolStats {
	stats := PoolStats{LiveWriters: pm.countLiveWriters()}

	pm.readMu.Lock()
	stats.ReadPoolSize = len(pm.readPool)
	pm.readMu.Unlock()

	pm.writeMu.Lock()
	stats.WritePoolSize = len(pm.writePool)
	pm.writeMu.Unlock()

	pm.quarantineMu.Lock()
	stats.QuarantineSize = len(pm.quarantine)
	pm.quarantineMu.Unlock()

	return stats
}

// awaitWriterAdmission polls until the busy flag is clear and the live
// writer count is below the ceiling, for at most the configured attempt
// budget. It reports how long it waited and whether admission was granted
// within the budget.
func (pm *PoolManager) awaitWriterAdmission(ctx context.Context) (time.Duration, bool, error) {
	interval := pm.settings.WriteAdmissionInterval()
	maxAttempts := pm.settings.WriteAdmissionMaxAttempts
	start := time.Now()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !pm.busy.Load() && pm.countLiveWriters() < pm.settings.WriteLiveCeiling {
			return time.Since(start), true, nil
		}

		select {
		case <-ctx.Done():
			return time.Since(start), false, ctx.Err()
		case <-time.After(interval):
		}
	}

	return time.Since(start), false, nil
}

// evictReadOverflow disposes the oldest eviction chunk when the read pool
// has reached its hard capacity, then sweeps the quarantine set.
func (pm *PoolManager) evictReadOverflow() {
	var evicted []*Handle

	pm.readMu.Lock()
	if len(pm.readPool) >= pm.settings.ReadPoolCapacity {
		chunk := pm.settings.ReadEvictionChunk
		if chunk > len(pm.readPool) {
			chunk = len(pm.readPool)
		}

		evicted = append(evicted, pm.readPool[:chunk]...)
		pm.readPool = append([]*Handle(nil), pm.readPool[chunk:]...)
	}
	pm.readMu.Unlock()

	if len(evicted) == 0 {
		return
	}

	pm.logInfo(logMsgReadHandlesEvicted, logAttrCount, len(evicted))

	for _, handle := range evicted {
		pm.incrementCounter(metricHandlesEvicted, poolLabels(poolLabelRead))
		pm.releaseAsync(handle)
	}

	pm.sweepQuarantine()
}

// evictWriteOverflow replaces the write pool with only the survivors when
// the hard capacity is exceeded: handles that are closed, or that are
// in-transaction with an error, are disposed.
func (pm *PoolManager) evictWriteOverflow() {
	var evicted []*Handle

	pm.writeMu.Lock()
	if len(pm.writePool) >= pm.settings.WritePoolCapacity {
		survivors := make([]*Handle, 0, len(pm.writePool))

		for _, handle := range pm.writePool {
			if !handle.IsOpen() || (handle.InTransaction() && handle.HasIOError()) {
				evicted = append(evicted, handle)
				continue
			}

			survivors = append(survivors, handle)
		}

		pm.writePool = survivors
	}
	pm.writeMu.Unlock()

	if len(evicted) == 0 {
		return
	}

	pm.logInfo(logMsgWriteHandlesEvicted, logAttrCount, len(evicted))

	for _, handle := range evicted {
		pm.incrementCounter(metricHandlesEvicted, poolLabels(poolLabelWrite))
		pm.releaseAsync(handle)
	}
}

// registerReadAsync appends a freshly created handle to the read pool off
// the acquisition path (fire-and-forget bookkeeping).
func (pm *PoolManager) registerReadAsync(handle *Handle) {
	pm.disposals.Add(1)

	go func() {
		defer pm.disposals.Done()

		pm.readMu.Lock()
		pm.readPool = append(pm.readPool, handle)
		pm.readMu.Unlock()
	}()
}

func (pm *PoolManager) releaseAsync(handle *Handle) {
	pm.disposals.Add(1)

	go func() {
		defer pm.disposals.Done()
		pm.dispose(handle)
	}()
}

// dispose applies the asymmetric disposal policy to one handle.
func (pm *PoolManager) dispose(handle *Handle) {
	if handle.InTransaction() && !handle.HasIOError() {
		pm.quarantineMu.Lock()
		pm.quarantine = append(pm.quarantine, handle)
		pm.quarantineMu.Unlock()

		pm.logInfo(logMsgHandleQuarantined, logAttrHandleID, handle.ID().String())
		pm.incrementCounter(metricHandlesQuarantine, nil)

		return
	}

	if err := handle.close(); err != nil {
		pm.logWarn(logMsgHandleCloseFailed, logAttrHandleID, handle.ID().String(), logAttrError, err.Error())
	}
}

// sweepQuarantine retries disposal of quarantined handles in one bounded
// pass: every entry is tried at most once, and entries still unsafe to close
// stay quarantined for the next sweep.
func (pm *PoolManager) sweepQuarantine() {
	pm.quarantineMu.Lock()
	entries := pm.quarantine
	pm.quarantine = nil
	pm.quarantineMu.Unlock()

	var kept []*Handle

	for _, handle := range entries {
		if handle.InTransaction() && !handle.HasIOError() {
			kept = append(kept, handle)
			continue
		}

		if err := handle.close(); err != nil {
			pm.logWarn(logMsgHandleCloseFailed, logAttrHandleID, handle.ID().String(), logAttrError, err.Error())
		}
	}

	if len(kept) > 0 {
		pm.quarantineMu.Lock()
		pm.quarantine = append(kept, pm.quarantine...)
		pm.quarantineMu.Unlock()
	}
}

// drainPool resets one pool to empty and disposes its handles through the
// asymmetric disposal policy, collecting close failures. The pool is
// cleared before any handle is touched so a disposal failure cannot leave
// stale entries behind.
func (pm *PoolManager) drainPool(mu *sync.Mutex, pool *[]*Handle) error {
	mu.Lock()
	handles := *pool
	*pool = nil
	mu.Unlock()

	var errs []error

	for _, handle := range handles {
		if handle.InTransaction() && !handle.HasIOError() {
			pm.quarantineMu.Lock()
			pm.quarantine = append(pm.quarantine, handle)
			pm.quarantineMu.Unlock()

			pm.logInfo(logMsgHandleQuarantined, logAttrHandleID, handle.ID().String())
			pm.incrementCounter(metricHandlesQuarantine, nil)

			continue
		}

		if err := handle.close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// countLiveWriters counts non-errored write handles that are open or
// transacting.
func (pm *PoolManager) countLiveWriters() int {
	pm.writeMu.Lock()
	defer pm.writeMu.Unlock()

	live := 0

	for _, handle := range pm.writePool {
		if handle.isLive() {
			live++
		}
	}

	return live
}

// configureEngineOnce runs the one-time engine configuration on the first
// write handle after startup or a ReleaseAll.
func (pm *PoolManager) configureEngineOnce(ctx context.Context, handle *Handle) {
	if !pm.optimized.CompareAndSwap(false, true) {
		return
	}

	if _, err := handle.Execute(ctx, "PRAGMA optimize"); err != nil {
		pm.logWarn(logMsgEngineConfigureFailed, logAttrError, err.Error())
	}
}

// onRawChange is the native mutation hook target for non-background write
// handles.
func (pm *PoolManager) onRawChange(op int, _ string, table string, rowID int64) {
	var kind sqlitepool.OperationKind

	switch op {
	case adapters.OpCodeInsert:
		kind = sqlitepool.OpInsert
	case adapters.OpCodeUpdate:
		kind = sqlitepool.OpUpdate
	case adapters.OpCodeDelete:
		kind = sqlitepool.OpDelete
	default:
		return
	}

	pm.aggregator.record(sqlitepool.ChangeEvent{Kind: kind, Table: table, RowID: rowID})
}

// publishBatch fans one deduplicated batch out to all subscribers.
func (pm *PoolManager) publishBatch(batch []sqlitepool.ChangeEvent) {
	pm.incrementCounter(metricChangeFlushes, nil)

	if dropped := pm.subscribers.publish(batch); dropped > 0 {
		pm.logWarn(logMsgSubscriberBatchesDropped, logAttrCount, dropped)
		pm.incrementCounter(metricDroppedBatches, nil)
	}
}
