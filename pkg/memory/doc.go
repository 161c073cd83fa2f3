// Package memory is the TTL key/value store shared by agents.
//
// Invariants:
//   - An entry whose expiration has passed is never returned by a read, even
//     before it is physically removed.
//   - Expired entries are removed lazily on Get/Exists and proactively by the
//     background sweep owned by AgentMemory.
//   - Get distinguishes absence (ErrNotFound) from storage failure (*BackendError).
//   - Values are stored in their JSON form; a read returns a fresh copy.
//
// Usage:
//
//	mem := memory.Open(memory.Config{Backend: memory.BackendSQLite, Path: "/data/memory.db"}, memory.Options{})
//	defer mem.Close()
//	_ = mem.Set(ctx, "parcel:42", map[string]any{"score": 0.8}, time.Hour)
//	var v map[string]any
//	_ = mem.Decode(ctx, "parcel:42", &v)
package memory
