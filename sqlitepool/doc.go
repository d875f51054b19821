// Package sqlitepool provides core abstractions and types for pooled access
// to an embedded SQLite engine under a single-writer/many-readers constraint.
//
// This package defines the fundamental types and error definitions shared by
// the engine implementation, including result rows, change events, parameter
// binding helpers, and the process-wide pool settings.
//
// The pool layer supports:
//   - A read-handle pool and a read-write-handle pool with separate capacities
//   - Streaming, forward-only query cursors over the native step protocol
//   - Debounced, deduplicated change-event notification for write handles
//
// Key types:
//   - Row: an ordered column-name to value mapping produced per cursor step
//   - ChangeEvent: a coalesced (operation kind, table, row id) notification
//   - Settings: the process-wide configuration knobs for both pools
//
// Common usage pattern:
//
//	settings := sqlitepool.DefaultSettings()
//	pool, err := sqliteengine.NewPoolManager("app.db", sqliteengine.WithSettings(settings))
//	if err != nil {
//		// handle error
//	}
//	defer pool.ReleaseAll()
//
//	handle, err := pool.AcquireRead(ctx)
//	if err != nil {
//		// handle error
//	}
//	defer pool.Release(handle)
//
//	cursor, err := handle.Query(ctx, "SELECT id, name FROM users WHERE age > ?", 21)
//	if err != nil {
//		// handle error
//	}
//	defer cursor.Close()
//
//	for cursor.Next() {
//		row := cursor.Row()
//		// use row.Get("name") etc.
//	}
//	if err := cursor.Err(); err != nil {
//		// handle error
//	}
package sqlitepool
