// Package adapters provides the native engine adapter for the SQLite pool.
//
// This package implements the adapter pattern around the raw driver-level
// surface of mattn/go-sqlite3: one EngineConn per native handle, prepared
// statements with explicit step-based row iteration, and the per-row update
// hook. Pool, handle and cursor logic depend only on the narrow EngineConn,
// EngineStmt and EngineRows interfaces, which keeps the native binding
// swappable and the concurrency logic testable against a scripted engine.
//
// The adapter deliberately sits below database/sql: the pool layer needs
// control of exactly one native handle at a time, and the update hook does
// not exist above the raw connection.
package adapters
