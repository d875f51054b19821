package sqliteengine

import (
	"sync"
	"time"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
)

// dedupKey is the batching identity of a change event. Row-id granularity is
// intentionally dropped at the batch boundary.
type dedupKey struct {
	table string
	kind  sqlitepool.OperationKind
}

// changeAggregator buffers raw per-row mutation notifications and flushes
// them as deduplicated batches.
//
// Every record call re-arms the debounce timer, so a burst of writes
// produces one flush shortly after the burst ends. The fallback timer is
// armed when the buffer turns non-empty and is not re-armed per record, so a
// sustained notification stream still flushes periodically instead of
// starving.
type changeAggregator struct {
	delay    time.Duration
	fallback time.Duration
	emit     func(batch []sqlitepool.ChangeEvent)

	mu            sync.Mutex
	buffer        []sqlitepool.ChangeEvent
	debounceTimer *time.Timer
	fallbackTimer *time.Timer
	stopped       bool
}

func newChangeAggregator(delay, fallback time.Duration, emit func(batch []sqlitepool.ChangeEvent)) *changeAggregator {
	return &changeAggregator{
		delay:    delay,
		fallback: fallback,
		emit:     emit,
	}
}

// record appends one raw notification and (re-)arms the flush timers.
func (a *changeAggregator) record(event sqlitepool.ChangeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}

	a.buffer = append(a.buffer, event)

	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
	}
	a.debounceTimer = time.AfterFunc(a.delay, a.flush)

	if a.fallbackTimer == nil {
		a.fallbackTimer = time.AfterFunc(a.fallback, a.flush)
	}
}

// flush deduplicates the buffered events by (table, kind), clears the
// buffer and hands the batch to the emit handler. An empty buffer makes the
// flush a no-op that does not rearm itself.
func (a *changeAggregator) flush() {
	a.mu.Lock()

	a.clearTimersLocked()

	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}

	batch := dedupe(a.buffer)
	a.buffer = nil
	emit := a.emit

	a.mu.Unlock()

	if emit != nil {
		emit(batch)
	}
}

// stop drops buffered events and disables the aggregator.
func (a *changeAggregator) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	a.buffer = nil
	a.clearTimersLocked()
}

func (a *changeAggregator) clearTimersLocked() {
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}

	if a.fallbackTimer != nil {
		a.fallbackTimer.Stop()
		a.fallbackTimer = nil
	}
}

// dedupe collapses events sharing (table, kind) into the first occurrence,
// preserving first-occurrence order.
func dedupe(events []sqlitepool.ChangeEvent) []sqlitepool.ChangeEvent {
	seen := make(map[dedupKey]struct{}, len(events))
	batch := make([]sqlitepool.ChangeEvent, 0, len(events))

	for _, event := range events {
		key := dedupKey{table: event.Table, kind: event.Kind}
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		batch = append(batch, event)
	}

	return batch
}
