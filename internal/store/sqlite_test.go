// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers thread CRUD, message appends, seq ordering, and cascade delete

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetThread(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	thread := &Thread{
		ID:        "thread-123",
		Title:     "morning standup",
		Owner:     "user-001",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	got, err := store.GetThread(ctx, "thread-123")
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}

	if got.ID != thread.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, thread.ID)
	}
	if got.Title != thread.Title {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, thread.Title)
	}
	if got.Owner != thread.Owner {
		t.Errorf("Owner mismatch: got %q, want %q", got.Owner, thread.Owner)
	}
}

func TestGetThread_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetThread(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateThread_Duplicate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	thread := &Thread{
		ID:        "thread-dup",
		Title:     "first",
		Owner:     "user-001",
		CreatedAt: time.Now(),
	}

	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("first CreateThread failed: %v", err)
	}

	err := store.CreateThread(ctx, thread)
	if !errors.Is(err, ErrDuplicateThread) {
		t.Errorf("expected ErrDuplicateThread, got %v", err)
	}
}

func TestListThreads(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i := range 3 {
		thread := &Thread{
			ID:        fmt.Sprintf("thread-%d", i),
			Title:     fmt.Sprintf("thread %d", i),
			Owner:     "user-001",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateThread(ctx, thread); err != nil {
			t.Fatalf("CreateThread failed: %v", err)
		}
	}

	threads, err := store.ListThreads(ctx, 10)
	if err != nil {
		t.Fatalf("ListThreads failed: %v", err)
	}
	if len(threads) != 3 {
		t.Fatalf("expected 3 threads, got %d", len(threads))
	}
	// Newest first
	if threads[0].ID != "thread-2" {
		t.Errorf("expected thread-2 first, got %q", threads[0].ID)
	}
}

func TestAppendMessage_AssignsIncreasingSeq(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	thread := &Thread{ID: "thread-seq", Title: "seq", Owner: "user-001", CreatedAt: time.Now()}
	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	for i := 1; i <= 5; i++ {
		msg := &Message{
			ID:        fmt.Sprintf("msg-%d", i),
			ThreadID:  "thread-seq",
			Role:      RoleAssistant,
			CreatedAt: time.Now(),
		}
		seq, err := store.AppendMessage(ctx, msg, []byte(fmt.Sprintf("fragment %d", i)))
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if seq != int64(i) {
			t.Errorf("expected seq %d, got %d", i, seq)
		}
		if msg.Seq != seq {
			t.Errorf("msg.Seq not written back: got %d, want %d", msg.Seq, seq)
		}
	}
}

func TestAppendMessage_ThreadNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	msg := &Message{ID: "msg-1", ThreadID: "nonexistent", Role: RoleUser, CreatedAt: time.Now()}
	_, err := store.AppendMessage(context.Background(), msg, []byte("hello"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessage_DefaultsTypeAndContentRef(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	thread := &Thread{ID: "thread-def", Title: "defaults", Owner: "user-001", CreatedAt: time.Now()}
	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	msg := &Message{ID: "msg-def", ThreadID: "thread-def", Role: RoleUser, CreatedAt: time.Now()}
	if _, err := store.AppendMessage(ctx, msg, []byte("hi")); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if msg.Type != MessageTypeText {
		t.Errorf("expected default type %q, got %q", MessageTypeText, msg.Type)
	}
	if msg.ContentRef == "" {
		t.Error("expected ContentRef to be populated")
	}
}

func TestListMessages_SeqOrderAndContent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	thread := &Thread{ID: "thread-list", Title: "list", Owner: "user-001", CreatedAt: time.Now()}
	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	want := []string{"one", "two", "three"}
	for i, content := range want {
		msg := &Message{
			ID:        fmt.Sprintf("msg-%d", i),
			ThreadID:  "thread-list",
			Role:      RoleAssistant,
			Done:      i == len(want)-1,
			CreatedAt: time.Now(),
		}
		if _, err := store.AppendMessage(ctx, msg, []byte(content)); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, "thread-list")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}

	for i, msg := range msgs {
		if msg.Seq != int64(i+1) {
			t.Errorf("message %d: expected seq %d, got %d", i, i+1, msg.Seq)
		}
		data, err := store.GetContent(ctx, msg.ContentRef)
		if err != nil {
			t.Fatalf("GetContent failed: %v", err)
		}
		if string(data) != want[i] {
			t.Errorf("message %d: expected content %q, got %q", i, want[i], data)
		}
	}

	if !msgs[len(msgs)-1].Done {
		t.Error("expected last message to have Done set")
	}
}

func TestListMessages_ThreadNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.ListMessages(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetContent_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetContent(context.Background(), "no-such-ref")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteThread_Cascades(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	thread := &Thread{ID: "thread-del", Title: "delete me", Owner: "user-001", CreatedAt: time.Now()}
	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	msg := &Message{ID: "msg-del", ThreadID: "thread-del", Role: RoleUser, CreatedAt: time.Now()}
	if _, err := store.AppendMessage(ctx, msg, []byte("to be removed")); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if err := store.DeleteThread(ctx, "thread-del"); err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}

	if _, err := store.GetThread(ctx, "thread-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected thread gone, got %v", err)
	}
	if _, err := store.ListMessages(ctx, "thread-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected messages gone, got %v", err)
	}
	if _, err := store.GetContent(ctx, msg.ContentRef); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected blob gone, got %v", err)
	}
}

func TestDeleteThread_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.DeleteThread(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessage_ConcurrentAppendersKeepTotalOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	thread := &Thread{ID: "thread-conc", Title: "concurrent", Owner: "user-001", CreatedAt: time.Now()}
	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	for w := range workers {
		wg.Go(func() {
			for i := range perWorker {
				msg := &Message{
					ID:        fmt.Sprintf("msg-%d-%d", w, i),
					ThreadID:  "thread-conc",
					Role:      RoleAssistant,
					CreatedAt: time.Now(),
				}
				if _, err := store.AppendMessage(ctx, msg, []byte("x")); err != nil {
					t.Errorf("AppendMessage failed: %v", err)
					return
				}
			}
		})
	}
	wg.Wait()

	msgs, err := store.ListMessages(ctx, "thread-conc")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != workers*perWorker {
		t.Fatalf("expected %d messages, got %d", workers*perWorker, len(msgs))
	}
	for i, msg := range msgs {
		if msg.Seq != int64(i+1) {
			t.Errorf("seq gap at position %d: got %d", i, msg.Seq)
		}
	}
}
