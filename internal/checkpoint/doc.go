// Package checkpoint stores per-thread conversation history.
//
// A Store loads and appends the ordered messages of one thread. Histories are
// isolated by thread id. Two backends exist: MemoryStore, a bounded LRU with
// an optional idle TTL, and SQLiteStore, a durable single-file store. Sessions
// couples a Store with a keyed lock so a turn's load, run and commit happen
// without interleaving on the same thread while different threads proceed
// independently.
package checkpoint
