// Package gateway exposes the conversation core over HTTP.
//
// # Overview
//
// The gateway is the reference transport: it owns the delivery loops that
// read broker connections and forward messages to clients as Server-Sent
// Events, and it maps client disconnects to connection closes.
//
// # Endpoints
//
//   - POST   /api/threads                   create a thread
//   - GET    /api/threads                   list threads
//   - GET    /api/threads/{id}              thread metadata
//   - DELETE /api/threads/{id}              delete thread (severs live streams)
//   - GET    /api/threads/{id}/messages     full history replay, seq order
//   - POST   /api/threads/{id}/messages     send a message, SSE-stream the turn
//   - GET    /api/threads/{id}/events       live tail as SSE (no backlog)
//   - GET    /healthz, GET /metrics
//
// # Streaming contract
//
// The send handler subscribes to the broker before triggering the turn, so
// the stream can never miss the first fragment. Idle waits surface as SSE
// keep-alive comments; a turn always ends with a Done fragment, so streams
// terminate even when generation fails. A client that drops mid-turn
// reconnects and calls the history endpoint; seq ordering makes live and
// replayed views line up exactly.
package gateway
