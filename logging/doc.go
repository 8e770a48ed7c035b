// Package logging provides a minimal logging interface and adapters for classmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, bus and agent runtimes use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - SimLogger with run/tick/agent context and simulation helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	sim, err := classmesh.New(func(o *classmesh.Options) { o.Logger = logger })
package logging
