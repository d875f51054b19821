// Package sqliteengine provides the SQLite implementation of the handle pool.
//
// This package implements pooled access to one embedded SQLite database file
// through raw native handles (mattn/go-sqlite3, below database/sql),
// arbitrating the single-writer/many-readers constraint and streaming
// debounced change-event batches to subscribers.
//
// Key features:
//   - Separate read and write pools with hard capacities and chunked eviction
//   - Advisory writer live-concurrency ceiling with a bounded admission poll
//   - Quarantined deferred disposal for handles caught mid-transaction
//   - Forward-only streaming cursors over the native step protocol
//   - Debounced, per-(table, kind) deduplicated change notifications
//
// Usage examples:
//
//	// Basic usage
//	pool, _ := sqliteengine.NewPoolManager("app.db")
//	defer pool.Shutdown()
//
//	// With settings and operational logging
//	pool, _ := sqliteengine.NewPoolManager(
//		"app.db",
//		sqliteengine.WithSettings(settings),
//		sqliteengine.WithLogger(logger),
//	)
//
//	sub := pool.Subscribe()
//	defer sub.Cancel()
//
//	writer, _ := pool.AcquireReadWrite(ctx, false)
//	defer pool.Release(writer)
//
//	affected, _ := writer.Execute(ctx, "INSERT INTO users(name) VALUES (?)", "ada")
//	batch := <-sub.Events() // one Insert event for table "users"
package sqliteengine
