// ABOUTME: Subscriber connection with a bounded queue and timeout-bounded reads
// ABOUTME: Wait returns a message, ErrEmpty on timeout, or ErrClosed after close

package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/store"
)

// ErrEmpty is returned by Wait when no message arrived within the timeout.
// It is routine control flow during idle polling, not a failure.
var ErrEmpty = errors.New("broker: no message within timeout")

// ErrClosed is returned by Wait once the connection has been closed. It is
// terminal for this connection only; the subscriber can reconnect and replay
// missed history from the store.
var ErrClosed = errors.New("broker: connection closed")

// Conn is one subscriber's handle on a thread's live message flow. It is
// created by Broker.Connect and carries a bounded queue written only by the
// broker and read only by the owning delivery loop.
type Conn struct {
	threadID     string
	subscriberID string

	queue chan *store.Message
	done  chan struct{}
	once  sync.Once

	broker *Broker
}

// ThreadID returns the thread this connection is subscribed to.
func (c *Conn) ThreadID() string { return c.threadID }

// SubscriberID returns the subscriber identity of this connection.
func (c *Conn) SubscriberID() string { return c.subscriberID }

// Wait blocks until a message arrives, the timeout elapses (ErrEmpty), or
// the connection is closed (ErrClosed). Messages already queued before close
// are still drained first, so a turn that finished just before a close is
// observed completely.
func (c *Conn) Wait(timeout time.Duration) (*store.Message, error) {
	// Drain buffered messages before reporting closure.
	select {
	case msg := <-c.queue:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.queue:
		return msg, nil
	case <-c.done:
		// A message may have raced in between the drain and the close.
		select {
		case msg := <-c.queue:
			return msg, nil
		default:
		}
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrEmpty
	}
}

// Close detaches the connection and wakes any blocked reader or publisher.
// Idempotent; safe to call concurrently with Publish. The queue channel is
// never closed, so no publisher can panic on a send racing a close.
func (c *Conn) Close() {
	if c.broker.remove(c) {
		liveConns.Dec()
	}
	c.markClosed()
}

// markClosed signals closure without touching the registry. Used for
// superseded connections and broker-side cleanup, where the registry entry
// is already gone or taken over.
func (c *Conn) markClosed() {
	c.once.Do(func() {
		close(c.done)
	})
}

// closed reports whether the connection has been closed.
func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
