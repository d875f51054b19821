package sqliteengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool/sqliteengine/internal/adapters"
)

// Handle owns one open native engine handle.
//
// A Handle must not be shared across concurrently stepping cursors: the pool
// manager hands out enough distinct handles that callers never contend on
// one. Once a handle is closed it is never reused for new cursors.
//
// Handles are created by the PoolManager and given back with
// PoolManager.Release; callers never construct or close them directly.
type Handle struct {
	id        uuid.UUID
	conn      adapters.EngineConn
	readWrite bool
	createdAt time.Time

	mu    sync.Mutex
	open  bool
	ioErr bool
}

func newHandle(conn adapters.EngineConn, readWrite bool) *Handle {
	return &Handle{
		id:        uuid.New(),
		conn:      conn,
		readWrite: readWrite,
		createdAt: time.Now(),
		open:      true,
	}
}

// ID returns the handle's identity used for log correlation.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// CreatedAt returns when the native handle was opened. Pool eviction walks
// handles in creation order, so the oldest handles go first.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// IsReadWrite reports whether the handle was opened for writing.
func (h *Handle) IsReadWrite() bool {
	return h.readWrite
}

// IsOpen reports whether the native handle is still open.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.open
}

// InTransaction reports whether the handle currently has an explicit
// transaction in flight.
func (h *Handle) InTransaction() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.open {
		return false
	}

	return !h.conn.AutoCommit()
}

// HasIOError reports whether a cursor or execute on this handle hit a fatal
// file-level failure. Errored handles are safe to close mid-transaction.
func (h *Handle) HasIOError() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.ioErr
}

func (h *Handle) markIOError() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ioErr = true
}

// isLive reports whether the handle counts against the live-concurrency
// ceiling: open or transacting, and not errored.
func (h *Handle) isLive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	// in-transaction implies open here: the open flag only drops on close
	return h.open && !h.ioErr
}

// close tears the native handle down exactly once. Subsequent calls are no-ops.
func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.open {
		return nil
	}

	h.open = false

	return h.conn.Close()
}

// Query prepares the given query text against this handle and returns a
// lazy, forward-only cursor over the result rows. Arguments bind
// positionally in order starting at index 1; sqlitepool.Named values bind
// by name.
//
// Returns sqlitepool.ErrHandleClosed if the handle is no longer open.
func (h *Handle) Query(ctx context.Context, query string, args ...any) (*Cursor, error) {
	return newCursor(ctx, h, query, args)
}

// Execute runs a statement that yields no rows and returns the
// affected-row count. Constraint violations are reported as
// *sqlitepool.ConstraintError with the not-null case distinguished; any
// other failure becomes a *sqlitepool.StepError carrying the query text.
//
// Returns sqlitepool.ErrHandleClosed if the handle is no longer open.
func (h *Handle) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	if !h.IsOpen() {
		return 0, sqlitepool.ErrHandleClosed
	}

	namedArgs, err := bindArgs(query, args)
	if err != nil {
		return 0, err
	}

	stmt, err := h.conn.PrepareStatement(query)
	if err != nil {
		return 0, &sqlitepool.PrepareError{Query: query, Err: err}
	}
	defer stmt.Close() //nolint:errcheck // finalization error is not actionable here

	affected, err := stmt.Execute(ctx, namedArgs)
	if err != nil {
		if adapters.IsIOFailure(err) {
			h.markIOError()
		}

		if constraint, notNull := adapters.ClassifyConstraint(err); constraint {
			return 0, &sqlitepool.ConstraintError{Query: query, NotNull: notNull, Err: err}
		}

		return 0, &sqlitepool.StepError{Query: query, Err: err}
	}

	return affected, nil
}
