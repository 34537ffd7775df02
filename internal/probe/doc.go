// Package probe pairs entry and return firings of the instrumented library
// calls and turns them into published events.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      BPF Ring Buffer Firings            │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   probe.Engine                          │  ← pid filter, routing
//	│                                         │
//	│   entry ──→ fd walk (openssl) ──→ registry.Put
//	│                                         │
//	│   return ─→ registry.Take ──→ assemble  │
//	│             - clamp return value        │
//	│             - memread payload           │
//	│             - comm at return time       │
//	│                                         │
//	│   connect ─→ family filter ──→ assemble │
//	└─────────┬───────────────────────────────┘
//	          │
//	          └──→ sink (bounded, non-blocking channels)
//
// Each call's state machine is Idle -> Armed (entry stored) -> Resolved
// (return consumed) -> Idle, keyed by pid_tgid, so concurrent calls on
// different threads never collide. A return with no armed entry is silently
// skipped: the call predates attachment or the entry was evicted.
//
// All failures on this path are local and silent. The engine is telemetry
// inside a foreign process's call path; it reports reduced volume through
// drop counters, never errors back to the traced process.
package probe
