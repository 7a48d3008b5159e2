package disclosegate

// Storage Backend Comparison
//
// This package provides three storage backends behind the Store interface:
//
// 1. SQLite Storage (sqlite_store.go) - DEFAULT & RECOMMENDED
//    - Single database for audit chain and gate state
//    - WAL mode with synchronous=FULL
//    - ACID transactions with compare-and-swap state updates
//    - Best for: production deployments, single-node gates
//
// 2. POSIX File Storage (file_store.go) - AUDIT CHAIN ONLY
//    - Append-only JSON-lines files
//    - File locking plus fsync on every append
//    - Best for: shipping the chain to external verifiers, archival copies
//
// 3. In-Memory Storage (memory_store.go) - TESTS
//    - Full Store implementation with no persistence
//    - Best for: unit tests and examples
//
// Usage Examples:
//
// === SQLite Storage (Default, Recommended) ===
//
//   import "github.com/probelab/disclosegate"
//
//   store, err := disclosegate.OpenSQLiteStore("file:gate.db")
//   if err != nil {
//       log.Fatal(err)
//   }
//
//   trail, _ := disclosegate.OpenTrail(store, disclosegate.TrailConfig{CheckpointEvery: 100})
//   trail.Append("researcher-7", "draft.created", map[string]any{"draft_id": id})
//
//
// === POSIX File Storage (Chain Export) ===
//
//   import "github.com/probelab/disclosegate"
//
//   store, err := disclosegate.OpenFileStore("/var/lib/disclosegate/chain")
//   if err != nil {
//       log.Fatal(err)
//   }
//
//   // Same trail API over the file-backed chain.
//   trail, _ := disclosegate.OpenTrail(store, disclosegate.TrailConfig{CheckpointEvery: 100})
//
//
// File Format (POSIX storage):
//
//   records.jsonl: one JSON object per line, in chain order
//
//     {"index":1,"id":"...","prev_hash":"000...0","hash":"ab4...",
//      "timestamp":"2026-03-01T10:00:00.000000001Z","actor":"researcher-7",
//      "action":"draft.created","payload_digest":"9f2...","payload":{...}}
//
//   checkpoints.jsonl: one JSON object per published checkpoint
//
//     {"index":100,"hash":"77c...","taken_at":"2026-03-01T10:05:00Z"}
//
//
// Performance Characteristics:
//
// SQLite Storage (Recommended):
//   - Transactions keep the chain append and tail check atomic
//   - Indexed lookups for drafts, tokens, and fingerprints
//   - WAL mode allows verification reads during appends
//
// POSIX File Storage:
//   - Human-readable, greppable chain
//   - fsync per append bounds loss to the in-flight record
//   - Sequential scan for iteration; no state tables
//
//
// Migration Between Backends:
//
//   // Export the chain from SQLite
//   sqlStore, _ := disclosegate.OpenSQLiteStore("file:gate.db")
//   ch, done, _ := sqlStore.IterRecords(1)
//
//   // Import into file storage
//   fileStore, _ := disclosegate.OpenFileStore("/var/lib/disclosegate/chain")
//   for r := range ch {
//       fileStore.AppendRecord(r, nil) // checkpoints re-published separately
//   }
//   done()
//
