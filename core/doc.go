// Package core provides the foundational domain types and interfaces shared by
// the invocation lifecycle. It defines:
//
//   - Backend (the agent-specific implementation plugged into the lifecycle)
//   - ChunkStream / Aborter (the lazy, single-pass sequence a backend streams)
//   - Result, Usage, Chunk and Capabilities value types
//   - Error, the normalized caller-facing failure with its four kinds
//
// The package keeps orchestration concerns (registry, cancellation, timeouts)
// out of scope, exposing small interfaces so backends stay independent of the
// engine that drives them.
package core
