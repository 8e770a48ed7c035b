// Package store contains implementations of the core.Store persistence
// contract.
//
// The interface lives in the core package so that memory, knowledge and the
// engine can depend on it without importing a backend. This package provides
// an in-process store for tests and short runs, and AsyncWriter, which puts
// any store behind a bounded, ordered, retrying write queue so the tick loop
// never waits on disk. The durable SQLite backend lives in store/sqlite.
//
// Callers should depend on core.Store rather than the concrete types so that
// backends can be swapped without touching calling code.
package store
