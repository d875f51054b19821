package adapters

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Native update-hook operation codes, re-exported so callers outside this
// package do not need the driver import.
const (
	OpCodeInsert = sqlite3.SQLITE_INSERT
	OpCodeUpdate = sqlite3.SQLITE_UPDATE
	OpCodeDelete = sqlite3.SQLITE_DELETE
)

// SQLiteConnector implements Connector on top of mattn/go-sqlite3, opening
// raw driver connections (one native handle each) below database/sql.
type SQLiteConnector struct {
	driver      *sqlite3.SQLiteDriver
	busyTimeout time.Duration
}

// NewSQLiteConnector creates a connector. busyTimeout is passed to the
// engine as the busy-timeout pragma on every connection.
func NewSQLiteConnector(busyTimeout time.Duration) *SQLiteConnector {
	return &SQLiteConnector{
		driver:      &sqlite3.SQLiteDriver{},
		busyTimeout: busyTimeout,
	}
}

// Connect opens one native handle to the database file at path.
//
// Write handles run in WAL mode with foreign keys on; read handles
// additionally open with mode=ro so the engine rejects mutation at the
// handle level.
func (c *SQLiteConnector) Connect(path string, readWrite bool) (EngineConn, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		path, c.busyTimeout.Milliseconds())

	if !readWrite {
		dsn += "&mode=ro"
	}

	raw, err := c.driver.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("opening native handle: %w", err)
	}

	conn, ok := raw.(*sqlite3.SQLiteConn)
	if !ok {
		_ = raw.Close()
		return nil, fmt.Errorf("unexpected driver connection type %T", raw)
	}

	return &sqliteConn{conn: conn}, nil
}

// sqliteConn wraps *sqlite3.SQLiteConn to implement EngineConn.
type sqliteConn struct {
	conn *sqlite3.SQLiteConn
}

func (c *sqliteConn) PrepareStatement(query string) (EngineStmt, error) {
	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}

	return &sqliteStmt{stmt: stmt}, nil
}

func (c *sqliteConn) RegisterUpdateHook(fn UpdateHookFunc) {
	if fn == nil {
		c.conn.RegisterUpdateHook(nil)
		return
	}

	c.conn.RegisterUpdateHook(func(op int, database string, table string, rowID int64) {
		fn(op, database, table, rowID)
	})
}

func (c *sqliteConn) AutoCommit() bool {
	return c.conn.AutoCommit()
}

func (c *sqliteConn) Close() error {
	return c.conn.Close()
}

// sqliteStmt wraps the native prepared statement to implement EngineStmt.
type sqliteStmt struct {
	stmt driver.Stmt
}

func (s *sqliteStmt) QueryRows(ctx context.Context, args []driver.NamedValue) (EngineRows, error) {
	queryer, ok := s.stmt.(driver.StmtQueryContext)
	if !ok {
		return nil, fmt.Errorf("native statement does not support context queries: %T", s.stmt)
	}

	rows, err := queryer.QueryContext(ctx, args)
	if err != nil {
		return nil, err
	}

	return &sqliteRows{rows: rows}, nil
}

func (s *sqliteStmt) Execute(ctx context.Context, args []driver.NamedValue) (int64, error) {
	execer, ok := s.stmt.(driver.StmtExecContext)
	if !ok {
		return 0, fmt.Errorf("native statement does not support context execution: %T", s.stmt)
	}

	result, err := execer.ExecContext(ctx, args)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (s *sqliteStmt) Close() error {
	return s.stmt.Close()
}

// sqliteRows wraps driver.Rows to implement EngineRows. One Step call maps
// to exactly one native step.
type sqliteRows struct {
	rows driver.Rows
}

func (r *sqliteRows) Columns() []string {
	return r.rows.Columns()
}

func (r *sqliteRows) Step(dest []driver.Value) error {
	return r.rows.Next(dest)
}

func (r *sqliteRows) Close() error {
	return r.rows.Close()
}

// ClassifyConstraint inspects a native error and reports whether it is a
// constraint violation, and if so whether the extended result code marks it
// as a not-null violation.
func ClassifyConstraint(err error) (constraint bool, notNull bool) {
	var nativeErr sqlite3.Error
	if errors.As(err, &nativeErr) && nativeErr.Code == sqlite3.ErrConstraint {
		return true, nativeErr.ExtendedCode == sqlite3.ErrConstraintNotNull
	}

	return false, false
}

// IsIOFailure reports whether a native error indicates the handle's file is
// no longer usable. Such handles are safe to close even mid-transaction.
func IsIOFailure(err error) bool {
	var nativeErr sqlite3.Error
	if !errors.As(err, &nativeErr) {
		return false
	}

	switch nativeErr.Code {
	case sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrFull, sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
		return true
	default:
		return false
	}
}
