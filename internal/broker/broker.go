// ABOUTME: In-memory fan-out message broker keyed by thread ID
// ABOUTME: Routes published messages to independent bounded per-subscriber queues

package broker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/store"
)

const (
	// defaultQueueSize is the channel buffer for each subscriber queue.
	defaultQueueSize = 64

	// defaultPublishWait bounds how long Publish blocks on one full queue
	// before giving up on that subscriber.
	defaultPublishWait = 2 * time.Second
)

// ErrOverloaded is returned by Publish when at least one subscriber queue
// stayed full past the bounded wait. The message was still delivered to every
// other subscriber, and the lagging connections were force-closed so their
// readers fall back to store replay instead of silently missing a message.
var ErrOverloaded = errors.New("broker: subscriber queue overloaded")

// threadShard holds the live connections of one thread. pubMu serializes
// publishes for the thread so every subscriber observes the same order.
type threadShard struct {
	pubMu sync.Mutex
	subs  map[string]*Conn // subscriberID -> conn
}

// Broker is a process-wide pub/sub router for live conversation messages.
// It holds no history: persistence happens in the store before Publish is
// called, and reconnecting clients replay from there. Construct one instance
// at process start and pass it by reference; there is no package singleton.
type Broker struct {
	mu     sync.RWMutex
	shards map[string]*threadShard // threadID -> shard

	queueSize   int
	publishWait time.Duration
	logger      *slog.Logger
}

// Options configures a Broker. Zero values fall back to defaults.
type Options struct {
	QueueSize   int           // per-subscriber queue capacity
	PublishWait time.Duration // bounded wait per full queue on publish
}

// New creates a Broker. Pass nil logger for default.
func New(logger *slog.Logger, opts Options) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PublishWait <= 0 {
		opts.PublishWait = defaultPublishWait
	}
	return &Broker{
		shards:      make(map[string]*threadShard),
		queueSize:   opts.QueueSize,
		publishWait: opts.PublishWait,
		logger:      logger.With("component", "broker"),
	}
}

// Connect registers a subscriber queue for the given (thread, subscriber)
// pair and returns its Conn. A second Connect for the same pair supersedes
// the first: the prior connection is detached and any reader blocked on it
// wakes with ErrClosed (last-connect-wins).
func (b *Broker) Connect(threadID, subscriberID string) *Conn {
	conn := &Conn{
		threadID:     threadID,
		subscriberID: subscriberID,
		queue:        make(chan *store.Message, b.queueSize),
		done:         make(chan struct{}),
		broker:       b,
	}

	b.mu.Lock()
	shard, ok := b.shards[threadID]
	if !ok {
		shard = &threadShard{subs: make(map[string]*Conn)}
		b.shards[threadID] = shard
	}
	prev := shard.subs[subscriberID]
	shard.subs[subscriberID] = conn
	b.mu.Unlock()

	if prev != nil {
		// Superseded connection keeps the gauge slot for its successor.
		prev.markClosed()
		b.logger.Debug("superseded connection",
			"thread_id", threadID,
			"subscriber_id", subscriberID)
	} else {
		liveConns.Inc()
	}

	b.logger.Debug("subscriber connected",
		"thread_id", threadID,
		"subscriber_id", subscriberID)
	return conn
}

// Publish appends msg to every queue currently registered for the thread.
// Publishes for one thread are serialized, so all live subscribers receive
// identical order. A full queue blocks the publisher up to the configured
// bounded wait; past that the lagging connection is closed and ErrOverloaded
// is returned after the remaining subscribers were served. Publishing to a
// thread with zero subscribers is a no-op and leaves no residue.
func (b *Broker) Publish(threadID string, msg *store.Message) error {
	b.mu.RLock()
	shard, ok := b.shards[threadID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	shard.pubMu.Lock()
	defer shard.pubMu.Unlock()

	b.mu.RLock()
	targets := make([]*Conn, 0, len(shard.subs))
	for _, conn := range shard.subs {
		targets = append(targets, conn)
	}
	b.mu.RUnlock()

	var overloaded bool
	for _, conn := range targets {
		select {
		case conn.queue <- msg:
			publishedTotal.Inc()
			continue
		case <-conn.done:
			// Closed concurrently; its queue is no longer ours to write.
			continue
		default:
		}

		// Queue full: block up to the bounded wait.
		timer := time.NewTimer(b.publishWait)
		select {
		case conn.queue <- msg:
			publishedTotal.Inc()
		case <-conn.done:
		case <-timer.C:
			overloaded = true
			overloadTotal.Inc()
			conn.Close()
			b.logger.Warn("closed lagging subscriber",
				"thread_id", threadID,
				"subscriber_id", conn.subscriberID,
				"message_id", msg.ID)
		}
		timer.Stop()
	}

	if overloaded {
		return ErrOverloaded
	}
	return nil
}

// Cleanup force-closes every connection for a thread. Used on thread
// deletion; afterward Publish for the thread is a no-op and no reader stays
// blocked.
func (b *Broker) Cleanup(threadID string) {
	b.mu.Lock()
	shard, ok := b.shards[threadID]
	delete(b.shards, threadID)
	b.mu.Unlock()
	if !ok {
		return
	}

	for _, conn := range shard.subs {
		conn.markClosed()
		liveConns.Dec()
	}

	if len(shard.subs) > 0 {
		b.logger.Debug("cleaned up thread",
			"thread_id", threadID,
			"connections", len(shard.subs))
	}
}

// Close shuts down the broker, closing every connection.
func (b *Broker) Close() {
	b.mu.Lock()
	all := b.shards
	b.shards = make(map[string]*threadShard)
	b.mu.Unlock()

	for _, shard := range all {
		for _, conn := range shard.subs {
			conn.markClosed()
			liveConns.Dec()
		}
	}

	b.logger.Debug("broker closed")
}

// remove detaches a connection from the registry if it is still the live one
// for its pair. Called by Conn.Close; superseded connections are skipped so
// they never evict their successor.
func (b *Broker) remove(conn *Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	shard, ok := b.shards[conn.threadID]
	if !ok {
		return false
	}
	if shard.subs[conn.subscriberID] != conn {
		return false
	}

	delete(shard.subs, conn.subscriberID)
	if len(shard.subs) == 0 {
		delete(b.shards, conn.threadID)
	}

	b.logger.Debug("subscriber disconnected",
		"thread_id", conn.threadID,
		"subscriber_id", conn.subscriberID)
	return true
}
