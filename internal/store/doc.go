// Package store provides the durable message log for coven-relay using SQLite.
//
// # Architecture
//
// The store is the source of truth for conversation history. Live fan-out is
// handled separately by the broker package; every fragment is appended here
// durably before it is published, so a client that saw a fragment live is
// guaranteed to find it again on replay.
//
// # Data Models
//
//   - Thread: conversation container (id, title, owner)
//   - Message: one fragment of a turn, with a store-assigned per-thread seq
//     and a Done flag marking the final fragment of a turn
//   - Blobs: message content bodies, referenced by Message.ContentRef and
//     fetched lazily via GetContent
//
// # Ordering
//
// AppendMessage is the only place a seq is assigned. The seq is computed
// inside the append transaction, giving a strict per-thread total order that
// the broker's delivery order matches.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateThread: thread ID already taken
//
// # Testing
//
// MockStore provides an in-memory implementation for tests of higher layers.
package store
