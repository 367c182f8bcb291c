// Package storage is the key/value persistence layer behind presence tracking.
//
// Values are opaque byte slices (callers store JSON). Drivers:
//   - "memory": process-local map, lost on restart
//   - "file":   JSON Lines journal compacted into a snapshot
//   - "sqlite": single-file database (modernc.org/sqlite, no cgo)
//   - "redis":  go-redis client, keys namespaced by a prefix
//   - "postgres": lib/pq, one upserted row per key
package storage
