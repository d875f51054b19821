package sqliteengine

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool/sqliteengine/internal/adapters"
)

// The fakes below implement the adapter interfaces with scripted behavior so
// pool, handle and cursor semantics are testable without a native engine.

type fakeConnector struct {
	mu           sync.Mutex
	failuresLeft int
	connects     int
	opened       []*fakeConn
	script       func(conn *fakeConn)
}

func (c *fakeConnector) Connect(_ string, readWrite bool) (adapters.EngineConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects++

	if c.failuresLeft > 0 {
		c.failuresLeft--
		return nil, errors.New("scripted connect failure")
	}

	conn := &fakeConn{readWrite: readWrite, statements: map[string]*fakeStmt{}}
	if c.script != nil {
		c.script(conn)
	}

	c.opened = append(c.opened, conn)

	return conn, nil
}

func (c *fakeConnector) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connects
}

func (c *fakeConnector) lastConn(t *testing.T) *fakeConn {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	require.NotEmpty(t, c.opened)

	return c.opened[len(c.opened)-1]
}

type fakeConn struct {
	mu         sync.Mutex
	readWrite  bool
	inTx       bool
	closed     bool
	closeErr   error
	prepareErr error
	prepared   int
	hook       adapters.UpdateHookFunc
	statements map[string]*fakeStmt
}

func (c *fakeConn) PrepareStatement(query string) (adapters.EngineStmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prepared++

	if c.prepareErr != nil {
		return nil, c.prepareErr
	}

	stmt, ok := c.statements[query]
	if !ok {
		stmt = &fakeStmt{}
	}

	return stmt.fresh(), nil
}

func (c *fakeConn) RegisterUpdateHook(fn adapters.UpdateHookFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hook = fn
}

func (c *fakeConn) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.inTx
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return c.closeErr
}

func (c *fakeConn) setInTransaction(inTx bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inTx = inTx
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *fakeConn) fireHook(op int, table string, rowID int64) {
	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook(op, "main", table, rowID)
	}
}

// fakeStmt scripts one statement. fresh() returns a copy with reset
// iteration state so re-preparing the same query text starts over.
type fakeStmt struct {
	mu           sync.Mutex
	columns      []string
	rows         [][]driver.Value
	stepErrAt    int // 1-based step index at which stepErr fires; 0 = never
	stepErr      error
	queryErr     error
	execAffected int64
	execErr      error

	prepares int
	closes   int
	steps    int
}

func (s *fakeStmt) fresh() *fakeStmt {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prepares++

	return s
}

func (s *fakeStmt) QueryRows(_ context.Context, _ []driver.NamedValue) (adapters.EngineRows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queryErr != nil {
		return nil, s.queryErr
	}

	return &fakeRows{stmt: s}, nil
}

func (s *fakeStmt) Execute(_ context.Context, _ []driver.NamedValue) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.execErr != nil {
		return 0, s.execErr
	}

	return s.execAffected, nil
}

func (s *fakeStmt) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes++

	return nil
}

func (s *fakeStmt) stepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.steps
}

type fakeRows struct {
	stmt *fakeStmt
	pos  int
}

func (r *fakeRows) Columns() []string {
	r.stmt.mu.Lock()
	defer r.stmt.mu.Unlock()

	return r.stmt.columns
}

func (r *fakeRows) Step(dest []driver.Value) error {
	r.stmt.mu.Lock()
	defer r.stmt.mu.Unlock()

	r.stmt.steps++

	if r.stmt.stepErrAt > 0 && r.stmt.steps >= r.stmt.stepErrAt {
		return r.stmt.stepErr
	}

	if r.pos >= len(r.stmt.rows) {
		return io.EOF
	}

	copy(dest, r.stmt.rows[r.pos])
	r.pos++

	return nil
}

func (r *fakeRows) Close() error {
	return nil
}

// newTestPool builds a PoolManager wired to the fake connector.
func newTestPool(t *testing.T, connector *fakeConnector, settings sqlitepool.Settings) *PoolManager {
	t.Helper()

	pm, err := NewPoolManager("fake.db", WithSettings(settings))
	require.NoError(t, err)

	pm.connector = connector

	return pm
}

// newTestHandle opens one handle directly against a scripted connection.
func newTestHandle(t *testing.T, conn *fakeConn, readWrite bool) *Handle {
	t.Helper()

	return newHandle(conn, readWrite)
}
