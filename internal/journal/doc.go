// Package journal records engine trace events in SQLite.
//
// A journal holds runs. A run is one recording session attached to an
// environment with Record: every trace event the environment emits while
// the recorder is open becomes a row in events, and fact events also
// maintain the facts table, which keeps one row per fact version with the
// seq range over which it was live. The facts table is what querysql
// compiles fact queries against.
//
// # Ordering
//
// Events are keyed by (run_id, seq) where seq is the environment's event
// counter, never wall time. Every read orders by seq (events) or by
// fact index (facts), so reads are identical across replays.
//
// # Encoding
//
// Values use the ir canonical JSON form, a [kind, payload] pair. A fact's
// slots column is a JSON object from slot name to canonical value, in
// template slot order. Ordered facts store their fields under the single
// key "implied" as a multifield.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package journal
