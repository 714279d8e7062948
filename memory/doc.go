// Package memory defines the dual-memory subsystem: a short-term
// per-session turn log and a long-term cross-session user profile.
//
// Architecture:
//
//   - ShortTerm: append-only turn log. A turn is appended as a pending
//     draft before crisis screening begins and committed only once the
//     response is finalized, so readers never observe a half-written
//     turn and a crash mid-turn never loses the input.
//   - LongTerm: one profile per user, derived from closed sessions by
//     deterministic lexical analysis (analyze.go). Profiles are never
//     deleted; markers only append or increment, and each analyzed
//     session is merged exactly once.
//   - Manager: watches for sessions idle past the configured gap,
//     closes them, and hands their turns to LongTerm asynchronously.
//     Handoffs are serialized per user and drained on Shutdown.
//
// Store implementations live in store/inmem (tests, default runtime)
// and store/sqlite (persistent).
package memory
