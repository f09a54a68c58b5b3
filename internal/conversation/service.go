// ABOUTME: Service is the central layer for conversation messaging
// ABOUTME: All messages flow through here - the store is the source of truth, not a side effect

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/broker"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/store"
)

// ErrDuplicateRequest reports a send whose request ID was already accepted
// within the dedupe window.
var ErrDuplicateRequest = errors.New("duplicate request")

// Triggerer is what the service needs from the turn orchestrator.
type Triggerer interface {
	Trigger(threadID, prompt string)
}

// Service coordinates the store, the broker, and the turn orchestrator. It
// enforces the core ordering rules: record first, then act; connect before
// produce; delete durably, then sever live connections.
type Service struct {
	store  store.Store
	broker *broker.Broker
	turns  Triggerer
	dedupe *dedupe.Cache // nil disables request deduplication
	logger *slog.Logger
}

// New creates a conversation Service. Pass nil logger for default.
func New(st store.Store, b *broker.Broker, turns Triggerer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		broker: b,
		turns:  turns,
		logger: logger.With("component", "conversation"),
	}
}

// NewWithDedupe creates a conversation Service that rejects resent requests.
// Sends carrying a RequestID already seen within the cache's TTL fail with
// ErrDuplicateRequest instead of appending twice.
func NewWithDedupe(st store.Store, b *broker.Broker, turns Triggerer, cache *dedupe.Cache, logger *slog.Logger) *Service {
	svc := New(st, b, turns, logger)
	svc.dedupe = cache
	return svc
}

// SendRequest contains everything needed to send a message through the
// conversation layer.
type SendRequest struct {
	// ThreadID may name an existing thread or one to create on first use.
	// Empty means create a new thread with a generated ID.
	ThreadID string

	Sender  string
	Title   string // used only when a thread is created
	Content string

	// RequestID is an optional client-chosen idempotency key. When the
	// service has a dedupe cache, a repeated (thread, request) pair within
	// the window is rejected with ErrDuplicateRequest.
	RequestID string
}

// SendResponse contains the result of sending a message. The assistant's
// response arrives asynchronously via the broker and the store; callers that
// want it live must Subscribe before calling SendMessage.
type SendResponse struct {
	ThreadID  string
	MessageID string
	Seq       int64
}

// SendMessage records the user message, publishes it to live viewers, and
// triggers the background turn. It returns as soon as the user message is
// durable; the turn's fragments follow through the broker.
//
// Key principle: record first, then act. The user message is appended to the
// store BEFORE the turn starts, so there is a record even if generation
// fails immediately.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if req.Sender == "" {
		return nil, fmt.Errorf("sender is required")
	}

	thread, err := s.ensureThread(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("thread resolution failed: %w", err)
	}

	// The dedupe mark is tentative until the append succeeds: a failed send
	// releases its request ID so the client's retry is accepted.
	var dedupeKey string
	if s.dedupe != nil && req.RequestID != "" {
		dedupeKey = thread.ID + ":" + req.RequestID
		if s.dedupe.Seen(dedupeKey) {
			s.logger.Debug("duplicate send suppressed",
				"thread_id", thread.ID,
				"request_id", req.RequestID)
			return nil, ErrDuplicateRequest
		}
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		ThreadID:  thread.ID,
		Role:      store.RoleUser,
		Type:      store.MessageTypeText,
		CreatedAt: time.Now(),
	}
	seq, err := s.store.AppendMessage(ctx, msg, []byte(req.Content))
	if err != nil {
		if dedupeKey != "" {
			s.dedupe.Forget(dedupeKey)
		}
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	s.logger.Debug("user message recorded",
		"thread_id", thread.ID,
		"message_id", msg.ID,
		"seq", seq,
		"sender", req.Sender)

	// Live viewers see the user message too; overload only means a lagging
	// viewer was cut over to store replay.
	if err := s.broker.Publish(thread.ID, msg); err != nil {
		s.logger.Warn("publish backpressure on user message",
			"thread_id", thread.ID,
			"message_id", msg.ID,
			"error", err)
	}

	s.turns.Trigger(thread.ID, req.Content)

	return &SendResponse{
		ThreadID:  thread.ID,
		MessageID: msg.ID,
		Seq:       seq,
	}, nil
}

// Subscribe opens a live connection for a thread. Live-only: no backlog is
// replayed through the connection; History is the explicit fetch for that.
func (s *Service) Subscribe(threadID, subscriberID string) *broker.Conn {
	return s.broker.Connect(threadID, subscriberID)
}

// History returns a thread's full message log in seq order.
func (s *Service) History(ctx context.Context, threadID string) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, threadID)
}

// Content fetches the content blob behind a message's ContentRef.
func (s *Service) Content(ctx context.Context, ref string) ([]byte, error) {
	return s.store.GetContent(ctx, ref)
}

// CreateThread creates a thread with a generated ID.
func (s *Service) CreateThread(ctx context.Context, title, owner string) (*store.Thread, error) {
	thread := &store.Thread{
		ID:        uuid.New().String(),
		Title:     title,
		Owner:     owner,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	s.logger.Debug("thread created", "thread_id", thread.ID)
	return thread, nil
}

// GetThread returns thread metadata.
func (s *Service) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	return s.store.GetThread(ctx, threadID)
}

// ListThreads returns recent threads.
func (s *Service) ListThreads(ctx context.Context, limit int) ([]*store.Thread, error) {
	return s.store.ListThreads(ctx, limit)
}

// DeleteThread removes a thread durably, then force-closes every live
// connection for it. After this returns, publishes for the thread are
// no-ops and no reader stays blocked.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.store.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	s.broker.Cleanup(threadID)
	s.logger.Debug("thread deleted", "thread_id", threadID)
	return nil
}

// ensureThread resolves an existing thread or creates a new one.
func (s *Service) ensureThread(ctx context.Context, req *SendRequest) (*store.Thread, error) {
	if req.ThreadID != "" {
		thread, err := s.store.GetThread(ctx, req.ThreadID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		// Thread ID provided but doesn't exist - create it
		thread = &store.Thread{
			ID:        req.ThreadID,
			Title:     req.Title,
			Owner:     req.Sender,
			CreatedAt: time.Now(),
		}
		if err := s.store.CreateThread(ctx, thread); err != nil {
			// Another request may have created the thread between our
			// lookup and insert attempt.
			if errors.Is(err, store.ErrDuplicateThread) {
				thread, lookupErr := s.store.GetThread(ctx, req.ThreadID)
				if lookupErr == nil {
					s.logger.Debug("found existing thread after race", "thread_id", thread.ID)
					return thread, nil
				}
				s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
			}
			return nil, err
		}
		s.logger.Debug("thread created", "thread_id", thread.ID)
		return thread, nil
	}

	// No thread named: create one with a generated ID.
	thread := &store.Thread{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Owner:     req.Sender,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	s.logger.Debug("thread created", "thread_id", thread.ID)
	return thread, nil
}
