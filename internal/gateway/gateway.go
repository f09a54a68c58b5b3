// ABOUTME: HTTP gateway exposing the conversation core over REST and SSE
// ABOUTME: Owns the reference delivery loop reading broker connections into SSE streams

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-relay/internal/conversation"
)

const (
	// waitInterval is the bounded block used by the delivery loops; on
	// expiry a keep-alive is written and the loop polls again.
	waitInterval = 15 * time.Second
)

// Gateway serves the relay's HTTP surface. Authentication is out of scope
// here: the core trusts its caller, and deployments front this with their
// own auth layer.
type Gateway struct {
	svc    *conversation.Service
	logger *slog.Logger
}

// New creates a Gateway. Pass nil logger for default.
func New(svc *conversation.Service, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		svc:    svc,
		logger: logger.With("component", "gateway"),
	}
}

// Router builds the HTTP route table.
func (g *Gateway) Router(metricsEnabled bool, metricsPath string) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", g.handleHealthz).Methods(http.MethodGet)
	if metricsEnabled {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/threads", g.handleCreateThread).Methods(http.MethodPost)
	api.HandleFunc("/threads", g.handleListThreads).Methods(http.MethodGet)
	api.HandleFunc("/threads/{id}", g.handleGetThread).Methods(http.MethodGet)
	api.HandleFunc("/threads/{id}", g.handleDeleteThread).Methods(http.MethodDelete)
	api.HandleFunc("/threads/{id}/messages", g.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/threads/{id}/messages", g.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/threads/{id}/events", g.handleEvents).Methods(http.MethodGet)

	return r
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
