// Package broker provides in-memory fan-out of live conversation messages.
//
// # Overview
//
// The broker routes messages published for a thread to every live subscriber
// connection of that thread, each with its own bounded queue. It holds no
// history and survives nothing: every message is durably appended to the
// store before it is published, and a reconnecting client replays from the
// store rather than from the broker.
//
// # Connections
//
//	conn := b.Connect(threadID, subscriberID)
//	for {
//	    msg, err := conn.Wait(5 * time.Second)
//	    switch {
//	    case errors.Is(err, broker.ErrEmpty):
//	        continue // idle, poll again
//	    case errors.Is(err, broker.ErrClosed):
//	        return // reconnect and replay from the store
//	    }
//	    deliver(msg)
//	}
//
// A second Connect for the same (thread, subscriber) pair supersedes the
// first; the superseded connection's reader wakes with ErrClosed.
//
// # Ordering and Backpressure
//
// Publishes for one thread are serialized, so all subscribers observe the
// same order, which equals the store's seq order when the publisher appends
// before publishing. A subscriber that cannot drain its queue within the
// bounded publish wait is closed and the publisher gets ErrOverloaded; the
// closed subscriber finds its missed messages in the store. Nothing is ever
// dropped silently.
//
// # Lifecycle
//
// Conn.Close is idempotent and safe concurrently with Publish: closure is
// signaled on a separate done channel and the queue channel itself is never
// closed, so a publish can never panic. A publish overlapping a close may
// still enqueue a final message; Wait drains the queue before reporting
// ErrClosed, and once a close has completed no later publish writes to the
// queue. Cleanup(threadID) force-closes all connections of a deleted thread.
package broker
