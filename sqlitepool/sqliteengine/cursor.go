package sqliteengine

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool/sqliteengine/internal/adapters"
)

// Cursor is a lazy, forward-only, single-pass sequence of rows over one
// prepared statement. It is bound to exactly one Handle at construction and
// must not outlive it.
//
// Iteration follows the scanner idiom:
//
//	for cursor.Next() {
//		row := cursor.Row()
//		// ...
//	}
//	if err := cursor.Err(); err != nil {
//		// ...
//	}
//
// Each Next performs exactly one native step. Once the sequence is done,
// further Next calls return false without re-stepping the native statement.
// The sequence is not restartable in place: Reset re-prepares the statement
// from scratch because stepping consumes the native statement handle.
type Cursor struct {
	handle *Handle
	query  string
	args   []any

	stmt    adapters.EngineStmt
	rows    adapters.EngineRows
	columns []string
	dest    []driver.Value

	current   sqlitepool.Row
	err       error
	exhausted bool
	finalized bool
}

func newCursor(ctx context.Context, handle *Handle, query string, args []any) (*Cursor, error) {
	if !handle.IsOpen() {
		return nil, sqlitepool.ErrHandleClosed
	}

	c := &Cursor{
		handle: handle,
		query:  query,
		args:   args,
	}

	if err := c.prepare(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// prepare compiles the query text and binds every registered parameter.
// Unsupported Go value types fail with *sqlitepool.BindError before the
// engine is touched; native compile or bind failures surface as
// *sqlitepool.PrepareError carrying the query text.
func (c *Cursor) prepare(ctx context.Context) error {
	namedArgs, err := bindArgs(c.query, c.args)
	if err != nil {
		return err
	}

	stmt, err := c.handle.conn.PrepareStatement(c.query)
	if err != nil {
		return &sqlitepool.PrepareError{Query: c.query, Err: err}
	}

	rows, err := stmt.QueryRows(ctx, namedArgs)
	if err != nil {
		_ = stmt.Close()
		return &sqlitepool.PrepareError{Query: c.query, Err: err}
	}

	rawColumns := rows.Columns()

	c.stmt = stmt
	c.rows = rows
	c.columns = sqlitepool.ResolveColumnNames(rawColumns)
	c.dest = make([]driver.Value, len(rawColumns))
	c.exhausted = false
	c.finalized = false
	c.err = nil

	return nil
}

// Next advances the cursor by one native step. It returns false when the
// sequence is done or a step failed; Err distinguishes the two.
func (c *Cursor) Next() bool {
	if c.err != nil || c.exhausted || c.finalized {
		return false
	}

	stepErr := c.rows.Step(c.dest)
	if stepErr == nil {
		values, extractErr := extractValues(c.dest)
		if extractErr != nil {
			c.err = extractErr
			c.finalize()

			return false
		}

		c.current = sqlitepool.BuildRow(c.columns, values)

		return true
	}

	if errors.Is(stepErr, io.EOF) {
		c.exhausted = true
		c.finalize()

		return false
	}

	if adapters.IsIOFailure(stepErr) {
		c.handle.markIOError()
	}

	if constraint, notNull := adapters.ClassifyConstraint(stepErr); constraint {
		c.err = &sqlitepool.ConstraintError{Query: c.query, NotNull: notNull, Err: stepErr}
	} else {
		c.err = &sqlitepool.StepError{Query: c.query, Err: stepErr}
	}

	c.finalize()

	return false
}

// Row returns the row produced by the last successful Next.
func (c *Cursor) Row() sqlitepool.Row {
	return c.current
}

// Err returns the first error encountered while stepping, or nil when the
// cursor ended by exhaustion.
func (c *Cursor) Err() error {
	return c.err
}

// Columns returns the resolved, unique result-column names.
func (c *Cursor) Columns() []string {
	return c.columns
}

// Reset re-prepares the statement from scratch (fresh compile and rebind) so
// the sequence can be consumed again.
func (c *Cursor) Reset(ctx context.Context) error {
	c.finalize()

	if !c.handle.IsOpen() {
		return sqlitepool.ErrHandleClosed
	}

	return c.prepare(ctx)
}

// Close finalizes the native statement. It is safe to call more than once
// and after exhaustion; the native statement is finalized exactly once.
func (c *Cursor) Close() error {
	c.finalize()
	return nil
}

func (c *Cursor) finalize() {
	if c.finalized {
		return
	}

	c.finalized = true

	if c.rows != nil {
		_ = c.rows.Close()
	}

	if c.stmt != nil {
		_ = c.stmt.Close()
	}
}

// extractValues copies one stepped row out of the native destination buffer.
// Values are driven by the native column's runtime type; an unrecognized
// type is fatal because it indicates an engine/library mismatch.
func extractValues(dest []driver.Value) ([]any, error) {
	values := make([]any, len(dest))

	for i, value := range dest {
		switch v := value.(type) {
		case nil:
			values[i] = nil
		case int64:
			values[i] = v
		case float64:
			values[i] = v
		case bool:
			values[i] = v
		case string:
			values[i] = v
		case time.Time:
			values[i] = v
		case []byte:
			copied := make([]byte, len(v))
			copy(copied, v)
			values[i] = copied
		default:
			return nil, fmt.Errorf("%w: column %d has type %T", sqlitepool.ErrExtractionFailed, i, value)
		}
	}

	return values, nil
}

// bindArgs maps caller arguments onto native bind parameters. Positional
// arguments bind in registration order starting at index 1; named arguments
// resolve their index by name in the engine.
func bindArgs(query string, args []any) ([]driver.NamedValue, error) {
	if len(args) == 0 {
		return nil, nil
	}

	namedArgs := make([]driver.NamedValue, 0, len(args))
	ordinal := 0

	for _, arg := range args {
		if named, ok := arg.(sqlitepool.NamedArg); ok {
			value, err := toNativeValue(named.Value)
			if err != nil {
				return nil, &sqlitepool.BindError{Query: query, Name: named.Name, Value: named.Value}
			}

			namedArgs = append(namedArgs, driver.NamedValue{Name: named.Name, Value: value})

			continue
		}

		value, err := toNativeValue(arg)
		if err != nil {
			return nil, &sqlitepool.BindError{Query: query, Index: ordinal + 1, Value: arg}
		}

		ordinal++
		namedArgs = append(namedArgs, driver.NamedValue{Ordinal: ordinal, Value: value})
	}

	return namedArgs, nil
}

var errUnsupportedBindValue = errors.New("unsupported bind value")

// toNativeValue performs the one-to-one Go to native value mapping.
func toNativeValue(value any) (driver.Value, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, errUnsupportedBindValue
		}

		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, errUnsupportedBindValue
		}

		return int64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return v, nil
	case []byte:
		return v, nil
	case time.Time:
		return v, nil
	default:
		return nil, errUnsupportedBindValue
	}
}
