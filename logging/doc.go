// Package logging provides a minimal logging interface and adapters for the
// invocation engine.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// the engine calls with a message followed by slog-style key/value pairs. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping a *slog.Logger
//   - InvocationLogger, a slog-backed logger carrying component and
//     invocation attributes
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(backend, func(o *engine.Options) { o.Logger = logger })
package logging
