// Package store provides the SQLite-backed backend.Backend.
//
// Tables:
//   - entities: registered record kinds and their key paths
//   - records: one row per (entity, unique_key), fields stored as JSON
//   - import_batches: append-only log of committed import batches
//
// # Uniqueness
//
// UNIQUE(entity, unique_key) backs the upsert path. The importer looks a key
// up and then inserts or updates inside the same transaction, and the pool
// is limited to one connection, so the check and the write cannot interleave
// with another writer.
//
// # Deterministic Query Results
//
// List orders by unique_key COLLATE BINARY; Batches orders by seq.
//
// # Database Configuration
//
//   - journal_mode (default WAL): concurrent reads during writes
//   - synchronous (default NORMAL): balance durability/performance
//   - busy_timeout (default 5000ms): wait for locks
//   - foreign_keys=ON: rows must reference a registered entity
//
// Two drivers are supported: "sqlite3" (github.com/mattn/go-sqlite3, cgo)
// and "sqlite" (modernc.org/sqlite, pure Go).
package store
