// ABOUTME: Turn orchestrator driving one user-message-to-response cycle off the request path
// ABOUTME: Persists each generated fragment to the store, then publishes it to the broker

package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/store"
)

const (
	// defaultGenerationTimeout bounds one turn's total generation time.
	defaultGenerationTimeout = 5 * time.Minute

	// saveTimeout bounds each store write. Writes use a detached context so
	// persistence continues even when the generation context is cancelled.
	saveTimeout = 5 * time.Second
)

// Appender is what the orchestrator needs from storage.
type Appender interface {
	AppendMessage(ctx context.Context, msg *store.Message, content []byte) (int64, error)
}

// Publisher is what the orchestrator needs from the broker.
type Publisher interface {
	Publish(threadID string, msg *store.Message) error
}

// Orchestrator runs conversational turns as background units of work.
// Trigger returns immediately; fragments become observable only through the
// store and the broker. Every turn terminates in exactly one Done fragment,
// even when the generator or a store write fails.
type Orchestrator struct {
	store  Appender
	broker Publisher
	gen    Generator

	genTimeout time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	GenerationTimeout time.Duration
}

// New creates an Orchestrator. Pass nil logger for default.
func New(st Appender, br Publisher, gen Generator, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	return &Orchestrator{
		store:      st,
		broker:     br,
		gen:        gen,
		genTimeout: opts.GenerationTimeout,
		logger:     logger.With("component", "turn"),
	}
}

// Trigger starts a turn for the newest user message of a thread and returns
// immediately. Callers that want to observe the turn live must connect their
// broker subscription before calling Trigger, or the first fragments may be
// published before the connection exists.
func (o *Orchestrator) Trigger(threadID, prompt string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runTurn(threadID, prompt)
	}()
}

// Wait blocks until all in-flight turns have finished. Used on shutdown and
// in tests; new turns may still be triggered while waiting.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// runTurn drives one turn: GENERATING, then EMITTING per fragment, then DONE.
// Failures never propagate to the trigger caller (which already returned);
// they surface as a terminal error fragment so no reader is left hanging.
func (o *Orchestrator) runTurn(threadID, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.genTimeout)
	defer cancel()

	o.logger.Debug("turn started", "thread_id", threadID)

	fragments, err := o.gen.Generate(ctx, threadID, prompt)
	if err != nil {
		o.logger.Error("generation failed to start", "thread_id", threadID, "error", err)
		o.emitTerminalError(threadID, fmt.Errorf("generation failed: %w", err))
		return
	}

	emitted := 0
	for frag := range fragments {
		msg, err := o.emit(threadID, frag)
		if err != nil {
			o.logger.Error("fragment write failed, aborting turn",
				"thread_id", threadID,
				"error", err)
			drain(fragments)
			o.emitTerminalError(threadID, fmt.Errorf("store write failed: %w", err))
			return
		}
		emitted++

		if frag.Done {
			// Exactly one terminal fragment per turn; discard any stragglers.
			drain(fragments)
			o.logger.Debug("turn completed",
				"thread_id", threadID,
				"fragments", emitted,
				"final_seq", msg.Seq)
			return
		}
	}

	// The generator ended without a terminal fragment. Whether that was a
	// timeout, a cancellation, or a backend that simply stopped, readers
	// still need their sentinel.
	if err := ctx.Err(); err != nil {
		o.emitTerminalError(threadID, fmt.Errorf("generation interrupted: %w", err))
		return
	}
	o.emitTerminalError(threadID, fmt.Errorf("generation ended without completion"))
}

// emit persists one fragment, then publishes it. The append must complete
// before the publish so any client that sees the fragment live can rely on
// the durable copy existing.
func (o *Orchestrator) emit(threadID string, frag Fragment) (*store.Message, error) {
	role := frag.Role
	if role == "" {
		role = store.RoleAssistant
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Role:      role,
		Type:      frag.Type,
		Done:      frag.Done,
		CreatedAt: time.Now(),
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if _, err := o.store.AppendMessage(saveCtx, msg, frag.Content); err != nil {
		return nil, err
	}

	if err := o.broker.Publish(threadID, msg); err != nil {
		// Overload closed the lagging subscribers; they replay from the
		// store. The fragment itself is durable, so the turn continues.
		o.logger.Warn("publish backpressure",
			"thread_id", threadID,
			"message_id", msg.ID,
			"error", err)
	}

	return msg, nil
}

// emitTerminalError appends and publishes the turn's terminal error fragment.
// If even the append fails, the fragment is published unpersisted (seq 0) as
// a last resort: a turn must never end silently for live readers.
func (o *Orchestrator) emitTerminalError(threadID string, cause error) {
	msg := &store.Message{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Role:      store.RoleSystem,
		Type:      store.MessageTypeError,
		Done:      true,
		CreatedAt: time.Now(),
	}
	content := []byte(cause.Error())

	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if _, err := o.store.AppendMessage(saveCtx, msg, content); err != nil {
		o.logger.Error("failed to persist terminal error fragment",
			"thread_id", threadID,
			"error", err)
	}

	if err := o.broker.Publish(threadID, msg); err != nil {
		o.logger.Warn("publish backpressure on terminal fragment",
			"thread_id", threadID,
			"message_id", msg.ID,
			"error", err)
	}

	o.logger.Debug("turn ended with error fragment", "thread_id", threadID, "cause", cause)
}

// drain discards remaining fragments so a generator blocked on its channel
// can finish and release its goroutine.
func drain(fragments <-chan Fragment) {
	go func() {
		for range fragments {
		}
	}()
}
