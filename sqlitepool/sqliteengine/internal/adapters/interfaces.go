package adapters

import (
	"context"
	"database/sql/driver"
)

// UpdateHookFunc receives one native row-mutation notification. The op code
// is the engine's raw operation constant (insert/update/delete).
type UpdateHookFunc func(op int, database string, table string, rowID int64)

// Connector opens native engine connections for the pool manager.
type Connector interface {
	Connect(path string, readWrite bool) (EngineConn, error)
}

// EngineConn is one open native engine handle.
type EngineConn interface {
	// PrepareStatement compiles query text into a native prepared statement.
	PrepareStatement(query string) (EngineStmt, error)

	// RegisterUpdateHook wires fn to the handle's native mutation hook.
	// Passing nil unregisters the hook.
	RegisterUpdateHook(fn UpdateHookFunc)

	// AutoCommit reports whether the handle is outside an explicit
	// transaction.
	AutoCommit() bool

	// Close tears down the native handle. It must be called exactly once.
	Close() error
}

// EngineStmt is one native prepared statement.
type EngineStmt interface {
	// QueryRows binds the given parameters and returns the lazy row
	// sequence. No step is performed until EngineRows.Step is called.
	QueryRows(ctx context.Context, args []driver.NamedValue) (EngineRows, error)

	// Execute binds the given parameters, steps the statement to completion
	// and returns the affected-row count.
	Execute(ctx context.Context, args []driver.NamedValue) (int64, error)

	// Close finalizes the native statement.
	Close() error
}

// EngineRows is the step-based iteration surface of an executing statement.
type EngineRows interface {
	// Columns returns the raw result-column names, duplicates included.
	Columns() []string

	// Step advances by one native step, filling dest with the current
	// row's values. It returns io.EOF when the statement is done.
	Step(dest []driver.Value) error

	// Close releases the native iteration state.
	Close() error
}
