// Package api exposes the indexed data and alert administration over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"qx-indexer/internal/alert"
	"qx-indexer/internal/domain"
	"qx-indexer/internal/observability"
	"qx-indexer/internal/storage"
)

// StatusProvider reports the crawl position.
type StatusProvider interface {
	Status() domain.IndexerStatus
}

// AlertTester evaluates one alert without committing or dispatching.
type AlertTester interface {
	Test(ctx context.Context, id string) (*alert.Result, error)
}

// Options configures a Server.
type Options struct {
	// Analytics enables the volume bucket endpoint when set.
	Analytics storage.AnalyticsStore

	// Feed enables the websocket live trade feed when set.
	Feed *Hub

	Logger *zap.Logger
}

// Server wires the REST routes. It is an http.Handler.
type Server struct {
	trades    storage.TradeStore
	holders   storage.HolderStore
	alerts    storage.AlertStore
	webhooks  storage.WebhookStore
	status    StatusProvider
	tester    AlertTester
	analytics storage.AnalyticsStore
	feed      *Hub
	logger    *zap.Logger
	router    *mux.Router
}

// NewServer creates the API server. status and tester may be nil when the
// serving process does not embed the indexer or alert engine.
func NewServer(
	trades storage.TradeStore,
	holders storage.HolderStore,
	alerts storage.AlertStore,
	webhooks storage.WebhookStore,
	status StatusProvider,
	tester AlertTester,
	opts Options,
) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		trades:    trades,
		holders:   holders,
		alerts:    alerts,
		webhooks:  webhooks,
		status:    status,
		tester:    tester,
		analytics: opts.Analytics,
		feed:      opts.Feed,
		logger:    opts.Logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	v1.HandleFunc("/assets/{issuer}/{name}/trades", s.handleAssetTrades).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{issuer}/{name}/holders", s.handleAssetHolders).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{issuer}/{name}/whales", s.handleAssetWhales).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{issuer}/{name}/volume", s.handleAssetVolume).Methods(http.MethodGet)
	v1.HandleFunc("/traders/{address}/trades", s.handleTraderTrades).Methods(http.MethodGet)

	v1.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}", s.handleUpdateAlert).Methods(http.MethodPut)
	v1.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods(http.MethodDelete)
	v1.HandleFunc("/alerts/{id}/test", s.handleTestAlert).Methods(http.MethodPost)

	v1.HandleFunc("/webhooks", s.handleListWebhooks).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks", s.handleCreateWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}", s.handleGetWebhook).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}", s.handleUpdateWebhook).Methods(http.MethodPut)
	v1.HandleFunc("/webhooks/{id}", s.handleDeleteWebhook).Methods(http.MethodDelete)

	if s.feed != nil {
		v1.HandleFunc("/feed", s.feed.handleWS).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// respondJSON writes v as a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorResponse{Error: msg})
}
