// ABOUTME: Store interface and data types for coven-relay persistence
// ABOUTME: Defines Thread, Message structs and the Store interface for the durable message log

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// Thread represents a conversation thread owned by a single user
type Thread struct {
	ID        string
	Title     string
	Owner     string
	CreatedAt time.Time
}

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MessageType constants for message content kinds
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeError = "error"
)

// Message represents a single fragment in a thread's append-only log.
// Seq is assigned by the store on append and is the per-thread total order.
// Content lives in a separate blob row referenced by ContentRef; it is not
// inlined here and must be fetched via GetContent.
type Message struct {
	ID         string
	ThreadID   string
	Role       string // "user", "assistant", "system"
	Type       string // "text", "image", "error" (defaults to "text")
	Seq        int64
	Done       bool // marks the final fragment of a turn
	ContentRef string
	CreatedAt  time.Time
}

// Store defines the interface for thread and message persistence.
// It is the source of truth for replay; live delivery is the broker's job
// and always happens after the corresponding append has completed.
type Store interface {
	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, limit int) ([]*Thread, error)

	// DeleteThread removes a thread with all its messages and content.
	// The caller is responsible for closing live broker connections afterward.
	DeleteThread(ctx context.Context, id string) error

	// AppendMessage durably appends a message and its content in one
	// transaction, assigning the next per-thread sequence number. The
	// returned seq is also written back to msg.Seq, and msg.ContentRef is
	// populated if it was empty. This is the only way a seq is assigned.
	AppendMessage(ctx context.Context, msg *Message, content []byte) (int64, error)

	// ListMessages returns all messages of a thread in seq order, for
	// initial page load and reconnect replay.
	ListMessages(ctx context.Context, threadID string) ([]*Message, error)

	// GetContent fetches the content blob for a message's ContentRef.
	GetContent(ctx context.Context, ref string) ([]byte, error)

	// Close releases any resources held by the store
	Close() error
}
