// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	threads  map[string]*Thread    // keyed by thread ID
	messages map[string][]*Message // keyed by thread ID, seq order
	blobs    map[string][]byte     // keyed by content ref

	// AppendErr, when set, is returned by AppendMessage. Used to exercise
	// store-write-failure paths in higher layers.
	AppendErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		threads:  make(map[string]*Thread),
		messages: make(map[string][]*Message),
		blobs:    make(map[string][]byte),
	}
}

// CreateThread stores a new thread.
func (m *MockStore) CreateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.threads[thread.ID]; exists {
		return ErrDuplicateThread
	}

	// Make a copy to avoid external modification
	t := *thread
	m.threads[t.ID] = &t
	return nil
}

// GetThread retrieves a thread by ID.
func (m *MockStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	t := *thread
	return &t, nil
}

// ListThreads returns threads newest first.
func (m *MockStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	threads := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		c := *t
		threads = append(threads, &c)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
	if len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// DeleteThread removes a thread with its messages and blobs.
func (m *MockStore) DeleteThread(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[id]; !ok {
		return ErrNotFound
	}

	for _, msg := range m.messages[id] {
		delete(m.blobs, msg.ContentRef)
	}
	delete(m.messages, id)
	delete(m.threads, id)
	return nil
}

// AppendMessage assigns the next seq and stores the message with its content.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message, content []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return 0, m.AppendErr
	}

	if _, ok := m.threads[msg.ThreadID]; !ok {
		return 0, ErrNotFound
	}

	if msg.Type == "" {
		msg.Type = MessageTypeText
	}
	if msg.ContentRef == "" {
		msg.ContentRef = uuid.New().String()
	}

	seq := int64(len(m.messages[msg.ThreadID])) + 1
	msg.Seq = seq

	c := *msg
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], &c)
	m.blobs[msg.ContentRef] = append([]byte(nil), content...)
	return seq, nil
}

// ListMessages returns a thread's messages in seq order.
func (m *MockStore) ListMessages(ctx context.Context, threadID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.threads[threadID]; !ok {
		return nil, ErrNotFound
	}

	msgs := make([]*Message, 0, len(m.messages[threadID]))
	for _, msg := range m.messages[threadID] {
		c := *msg
		msgs = append(msgs, &c)
	}
	return msgs, nil
}

// GetContent fetches a stored blob by ref.
func (m *MockStore) GetContent(ctx context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// compile-time interface check
var _ Store = (*MockStore)(nil)
