// Package conversation provides the high-level messaging service.
//
// # Overview
//
// The Service sits between the transport layer and the core pieces (the
// durable store, the in-memory broker, and the turn orchestrator) and
// enforces their ordering contract:
//
//  1. SendMessage appends the user message durably before anything else.
//  2. The turn is triggered fire-and-forget; the caller returns immediately.
//  3. Live viewers subscribe BEFORE sending, so no fragment can be published
//     ahead of their connection.
//  4. DeleteThread removes durable state first, then severs live
//     connections via broker cleanup.
//
// # Live vs. replay
//
// Subscribe is live-only; it never replays backlog. History is the explicit
// replay fetch, keyed by the store's per-thread seq, which also matches live
// delivery order. A client that reconnects calls History once and resumes
// from its last seen seq.
package conversation
