// Package backend groups the core.Backend implementations shipped with
// agentinvoke:
//
//   - echo: deterministic backend for tests, demos and smoke checks
//   - llm: adapts any model.Model (Anthropic, OpenAI, Mock) to core.Backend
//
// Backends never track ids, timeouts or cancellation themselves. They watch
// the ctx the engine hands them and echo the invocation id they were given.
package backend
