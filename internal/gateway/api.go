// ABOUTME: HTTP handlers for thread CRUD, history replay, and live SSE streaming
// ABOUTME: Maps client disconnects to connection close and idle polls to keep-alives

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/2389/coven-relay/internal/broker"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/store"
)

// threadJSON is the wire shape for thread metadata.
type threadJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// messageJSON is the wire shape for a message with its content resolved.
type messageJSON struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Type      string    `json:"type"`
	Seq       int64     `json:"seq"`
	Done      bool      `json:"done"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func threadToJSON(t *store.Thread) threadJSON {
	return threadJSON{
		ID:        t.ID,
		Title:     t.Title,
		Owner:     t.Owner,
		CreatedAt: t.CreatedAt,
	}
}

// resolveMessage fetches the content blob behind a message. An unpersisted
// terminal fragment has no blob; its kind still reaches the client.
func (g *Gateway) resolveMessage(ctx context.Context, msg *store.Message) messageJSON {
	out := messageJSON{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Role:      msg.Role,
		Type:      msg.Type,
		Seq:       msg.Seq,
		Done:      msg.Done,
		CreatedAt: msg.CreatedAt,
	}
	if msg.ContentRef == "" {
		return out
	}
	data, err := g.svc.Content(ctx, msg.ContentRef)
	if err != nil {
		g.logger.Error("failed to resolve content",
			"message_id", msg.ID,
			"content_ref", msg.ContentRef,
			"error", err)
		return out
	}
	out.Content = string(data)
	return out
}

func (g *Gateway) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Owner == "" {
		g.sendJSONError(w, http.StatusBadRequest, "owner is required")
		return
	}

	thread, err := g.svc.CreateThread(r.Context(), req.Title, req.Owner)
	if err != nil {
		g.logger.Error("failed to create thread", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusCreated, threadToJSON(thread))
}

func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := g.svc.ListThreads(r.Context(), 100)
	if err != nil {
		g.logger.Error("failed to list threads", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]threadJSON, 0, len(threads))
	for _, t := range threads {
		out = append(out, threadToJSON(t))
	}
	g.sendJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	thread, err := g.svc.GetThread(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get thread", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, threadToJSON(thread))
}

func (g *Gateway) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	err := g.svc.DeleteThread(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete thread", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages serves the replay path: full history in seq order.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	messages, err := g.svc.History(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to list messages", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]messageJSON, 0, len(messages))
	for _, msg := range messages {
		out = append(out, g.resolveMessage(r.Context(), msg))
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleSendMessage accepts a user message and streams the resulting turn as
// SSE until its terminal fragment. The broker connection is established
// before the turn is triggered so no fragment can slip past it.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	req, err := parseSendRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Connect before produce.
	conn := g.svc.Subscribe(threadID, "sse:"+uuid.New().String())
	defer conn.Close()

	resp, err := g.svc.SendMessage(r.Context(), &conversation.SendRequest{
		ThreadID:  threadID,
		Sender:    req.Sender,
		Title:     req.Title,
		Content:   req.Content,
		RequestID: req.RequestID,
	})
	if err != nil {
		if errors.Is(err, conversation.ErrDuplicateRequest) {
			g.sendJSONError(w, http.StatusConflict, "duplicate request")
			return
		}
		g.logger.Error("failed to send message", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.setSSEHeaders(w)
	g.writeSSEEvent(w, "started", map[string]any{
		"thread_id":  resp.ThreadID,
		"message_id": resp.MessageID,
	})
	flusher.Flush()

	g.deliver(r.Context(), w, flusher, conn, true)
}

// handleEvents serves the live tail: everything published for the thread
// from now on, as SSE, until the client disconnects or the thread is
// deleted. No backlog is replayed; clients fetch history separately.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]

	if _, err := g.svc.GetThread(r.Context(), threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "thread not found")
			return
		}
		g.logger.Error("failed to get thread", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		subscriberID = "sse:" + uuid.New().String()
	}

	conn := g.svc.Subscribe(threadID, subscriberID)
	defer conn.Close()

	g.setSSEHeaders(w)
	g.writeSSEEvent(w, "listening", map[string]any{"thread_id": threadID})
	flusher.Flush()

	g.deliver(r.Context(), w, flusher, conn, false)
}

// deliver is the delivery loop: it reads from a broker connection and
// forwards to the client. Idle waits produce keep-alive comments; a closed
// connection ends the stream; when untilDone is set the loop stops after the
// turn's terminal fragment.
func (g *Gateway) deliver(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conn *broker.Conn, untilDone bool) {
	for {
		if ctx.Err() != nil {
			// Client went away; the deferred Close detaches the queue.
			return
		}

		msg, err := conn.Wait(waitInterval)
		switch {
		case errors.Is(err, broker.ErrEmpty):
			// Idle: keep the HTTP stream alive and poll again.
			io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
			continue
		case errors.Is(err, broker.ErrClosed):
			g.writeSSEEvent(w, "closed", map[string]any{"thread_id": conn.ThreadID()})
			flusher.Flush()
			return
		}

		g.writeSSEEvent(w, "message", g.resolveMessage(ctx, msg))
		flusher.Flush()

		if untilDone && msg.Done {
			return
		}
	}
}

// sendRequest is the POST body for sending a message.
type sendRequest struct {
	Sender    string `json:"sender"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	RequestID string `json:"request_id,omitempty"`
}

// parseSendRequest decodes and validates a send-message body.
func parseSendRequest(r io.Reader) (*sendRequest, error) {
	var req sendRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	if req.Sender == "" {
		return nil, fmt.Errorf("sender is required")
	}
	if req.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	return &req, nil
}

// setSSEHeaders sets the response headers for an SSE stream.
func (g *Gateway) setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a single SSE event with a JSON payload.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// sendJSON writes a JSON response with the given status code.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
