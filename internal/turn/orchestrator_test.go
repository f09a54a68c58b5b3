// ABOUTME: Tests for the turn orchestrator
// ABOUTME: Covers fragment emission, terminal sentinel guarantees, and failure paths

package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/broker"
	"github.com/2389/coven-relay/internal/store"
)

// scriptedGenerator plays back a fixed fragment sequence. If startErr is set,
// Generate fails immediately. The channel closes after the script regardless
// of whether a Done fragment was included, mimicking a backend that dies
// mid-stream.
type scriptedGenerator struct {
	script   []Fragment
	startErr error
}

func (g *scriptedGenerator) Generate(ctx context.Context, threadID string, prompt string) (<-chan Fragment, error) {
	if g.startErr != nil {
		return nil, g.startErr
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		for _, frag := range g.script {
			select {
			case out <- frag:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func newTestThread(t *testing.T, st *store.MockStore, id string) {
	t.Helper()
	err := st.CreateThread(context.Background(), &store.Thread{
		ID:        id,
		Title:     "test thread",
		Owner:     "user-001",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func collectLive(t *testing.T, conn *broker.Conn) []*store.Message {
	t.Helper()
	var msgs []*store.Message
	for {
		msg, err := conn.Wait(2 * time.Second)
		if err != nil {
			t.Fatalf("live stream ended early: %v (got %d messages)", err, len(msgs))
		}
		msgs = append(msgs, msg)
		if msg.Done {
			return msgs
		}
	}
}

func TestOrchestrator_EmitsFragmentsInOrder(t *testing.T) {
	st := store.NewMockStore()
	b := broker.New(nil, broker.Options{})
	defer b.Close()

	newTestThread(t, st, "thread-1")

	gen := &scriptedGenerator{script: []Fragment{
		{Content: []byte("Hello")},
		{Content: []byte(", world")},
		{Content: []byte("!"), Done: true},
	}}
	o := New(st, b, gen, nil, Options{})

	conn := b.Connect("thread-1", "viewer")
	defer conn.Close()

	o.Trigger("thread-1", "hello")
	o.Wait()

	live := collectLive(t, conn)
	require.Len(t, live, 3)
	for i, msg := range live {
		assert.Equal(t, int64(i+1), msg.Seq, "live order must match seq order")
		assert.Equal(t, store.RoleAssistant, msg.Role)
	}
	assert.True(t, live[2].Done)
	assert.False(t, live[0].Done)
	assert.False(t, live[1].Done)

	// Durable copies exist for everything seen live.
	stored, err := st.ListMessages(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	data, err := st.GetContent(context.Background(), stored[0].ContentRef)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))
}

func TestOrchestrator_TwoSubscribersSeeIdenticalTurn(t *testing.T) {
	st := store.NewMockStore()
	b := broker.New(nil, broker.Options{})
	defer b.Close()

	newTestThread(t, st, "thread-1")

	gen := &scriptedGenerator{script: []Fragment{
		{Content: []byte("a")},
		{Content: []byte("b")},
		{Content: []byte("c"), Done: true},
	}}
	o := New(st, b, gen, nil, Options{})

	conn1 := b.Connect("thread-1", "viewer-1")
	defer conn1.Close()
	conn2 := b.Connect("thread-1", "viewer-2")
	defer conn2.Close()

	o.Trigger("thread-1", "go")
	o.Wait()

	live1 := collectLive(t, conn1)
	live2 := collectLive(t, conn2)
	require.Len(t, live1, 3)
	require.Len(t, live2, 3)
	for i := range live1 {
		assert.Equal(t, live1[i].ID, live2[i].ID, "position %d differs between subscribers", i)
	}
}

func TestOrchestrator_GeneratorStartFailureEmitsTerminalError(t *testing.T) {
	st := store.NewMockStore()
	b := broker.New(nil, broker.Options{})
	defer b.Close()

	newTestThread(t, st, "thread-1")

	gen := &scriptedGenerator{startErr: errors.New("backend unavailable")}
	o := New(st, b, gen, nil, Options{})

	conn := b.Connect("thread-1", "viewer")
	defer conn.Close()

	o.Trigger("thread-1", "hello")
	o.Wait()

	live := collectLive(t, conn)
	require.Len(t, live, 1)
	assert.True(t, live[0].Done)
	assert.Equal(t, store.RoleSystem, live[0].Role)
	assert.Equal(t, store.MessageTypeError, live[0].Type)

	data, err := st.GetContent(context.Background(), live[0].ContentRef)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend unavailable")
}

func TestOrchestrator_GeneratorDiesMidStreamStillTerminates(t *testing.T) {
	st := store.NewMockStore()
	b := broker.New(nil, broker.Options{})
	defer b.Close()

	newTestThread(t, st, "thread-1")

	// One fragment, then the channel closes without a Done sentinel.
	gen := &scriptedGenerator{script: []Fragment{
		{Content: []byte("partial")},
	}}
	o := New(st, b, gen, nil, Options{})

	conn := b.Connect("thread-1", "viewer")
	defer conn.Close()

	o.Trigger("thread-1", "hello")
	o.Wait()

	live := collectLive(t, conn)
	require.Len(t, live, 2)
	assert.False(t, live[0].Done)
	assert.True(t, live[1].Done)
	assert.Equal(t, store.MessageTypeError, live[1].Type)

	// Exactly one Done fragment, always last, also in the durable log.
	stored, err := st.ListMessages(context.Background(), "thread-1")
	require.NoError(t, err)
	doneCount := 0
	for _, msg := range stored {
		if msg.Done {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
	assert.True(t, stored[len(stored)-1].Done)
}

func TestOrchestrator_ExactlyOneDoneEvenWithTrailingFragments(t *testing.T) {
	st := store.NewMockStore()
	b := broker.New(nil, broker.Options{})
	defer b.Close()

	newTestThread(t, st, "thread-1")

	// A misbehaving backend keeps talking after its Done fragment.
	gen := &scriptedGenerator{script: []Fragment{
		{Content: []byte("answer"), Done: true},
		{Content: []byte("straggler")},
		{Content: []byte("another"), Done: true},
	}}
	o := New(st, b, gen, nil, Options{})

	o.Trigger("thread-1", "hello")
	o.Wait()

	stored, err := st.ListMessages(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, stored, 1, "fragments after the sentinel must be discarded")
	assert.True(t, stored[0].Done)
}

func TestOrchestrator_StoreWriteFailureStillUnblocksReaders(t *testing.T) {
	st := store.NewMockStore()
	st.AppendErr = errors.New("disk full")
	b := broker.New(nil, broker.Options{})
	defer b.Close()

	gen := &scriptedGenerator{script: []Fragment{
		{Content: []byte("doomed")},
	}}
	o := New(st, b, gen, nil, Options{})

	conn := b.Connect("thread-1", "viewer")
	defer conn.Close()

	o.Trigger("thread-1", "hello")
	o.Wait()

	// The terminal fragment could not be persisted either, but it is still
	// published so the blocked reader wakes with a completed turn.
	msg, err := conn.Wait(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, msg.Done)
	assert.Equal(t, store.MessageTypeError, msg.Type)
	assert.Equal(t, int64(0), msg.Seq, "unpersisted terminal fragment carries no seq")
}

func TestEchoGenerator_StreamsPromptAndTerminates(t *testing.T) {
	gen := &EchoGenerator{}
	fragments, err := gen.Generate(context.Background(), "thread-1", "hello brave world")
	require.NoError(t, err)

	var got []Fragment
	for frag := range fragments {
		got = append(got, frag)
	}

	require.Len(t, got, 4) // three words plus the terminal fragment
	assert.Equal(t, "hello ", string(got[0].Content))
	assert.Equal(t, "brave ", string(got[1].Content))
	assert.Equal(t, "world", string(got[2].Content))
	assert.True(t, got[3].Done)
	for _, frag := range got[:3] {
		assert.False(t, frag.Done)
	}
}
