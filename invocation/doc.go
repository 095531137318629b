// Package invocation holds the per-invocation lifecycle primitives the engine
// composes:
//
//   - Registry: the only shared mutable state, mapping invocation ids to the
//     Controller that can cancel them
//   - Compose / Signal: a single-fire union of the controller, a timeout timer
//     and the caller's context, remembering which source fired first
//   - Normalize: maps a raw failure plus the signal's state onto one of the
//     four core.ErrorKind values
//   - NewID: process-unique invocation ids
//
// None of these types know about backends; they are safe for concurrent use.
package invocation
