package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"statushub/internal/constants"
	apperrors "statushub/internal/errors"
	"statushub/internal/httputil"
	"statushub/internal/metrics"
	"statushub/internal/middleware"
	"statushub/internal/models"
	"statushub/internal/service"
	"statushub/pkg/notification"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MessageReader is the read side of the store the HTTP surface needs.
type MessageReader interface {
	ListMessages(ctx context.Context, afterID int64, limit int, includeDeleted bool) ([]*models.MessageRecord, error)
	CountMessages(ctx context.Context, includeDeleted bool) (int, error)
	CountPending(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      models.ServerConfig
	listener *service.Listener
	store    MessageReader
	notifier *service.Notifier
	limiter  *rate.Limiter
	server   *http.Server

	closing   chan struct{}
	closeOnce sync.Once
}

func NewServer(cfg models.ServerConfig, listener *service.Listener, store MessageReader, notifier *service.Notifier, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		listener: listener,
		store:    store,
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Limit(cfg.IngestRatePerSec), cfg.IngestBurst),
		closing:  make(chan struct{}),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc("/listener", s.handleListenerState()).Methods(http.MethodGet)
	s.router.HandleFunc("/listener", s.handleListenerToggle()).Methods(http.MethodPut)
	s.router.HandleFunc("/messages", s.handleMessages()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleConsumer()).Methods(http.MethodGet)

	events := s.router.PathPrefix("/events").Subrouter()
	events.Use(middleware.RateLimitMiddleware(s.limiter, s.logger))
	events.HandleFunc("", s.handleEvent()).Methods(http.MethodPost)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on %s", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes consumer sockets and stops accepting requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type eventResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.DefaultMaxEventBodyBytes))
		if err != nil {
			middleware.WriteError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to read event body"))
			return
		}

		ev, err := notification.ParseEvent(body)
		if err != nil {
			middleware.WriteError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed event"))
			return
		}

		err = s.listener.OnEvent(r.Context(), ev)
		switch {
		case err == nil:
			middleware.WriteJSON(w, http.StatusAccepted, eventResponse{Status: "accepted"})
		case apperrors.HasCode(err, apperrors.ErrCodeFiltered):
			middleware.WriteJSON(w, http.StatusAccepted, eventResponse{Status: "filtered"})
		default:
			apperrors.WrapLogger(s.logger).LogRetryableError(err, "Failed to accept event")
			middleware.WriteError(w, r, err)
		}
	}
}

type messagesResponse struct {
	Messages  []*models.MessageRecord `json:"messages"`
	NextAfter int64                   `json:"next_after"`
}

func (s *Server) handleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var after int64
		if raw := q.Get("after"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v < 0 {
				middleware.WriteError(w, r, apperrors.NewValidationError("after", raw, "must be a non-negative integer"))
				return
			}
			after = v
		}

		limit := 0
		if raw := q.Get("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				middleware.WriteError(w, r, apperrors.NewValidationError("limit", raw, "must be a non-negative integer"))
				return
			}
			limit = v
		}

		includeDeleted := true
		if raw := q.Get("include_deleted"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				middleware.WriteError(w, r, apperrors.NewValidationError("include_deleted", raw, "must be a boolean"))
				return
			}
			includeDeleted = v
		}

		rows, err := s.store.ListMessages(r.Context(), after, limit, includeDeleted)
		if err != nil {
			apperrors.WrapLogger(s.logger).LogError(err, "Failed to list messages")
			middleware.WriteError(w, r, err)
			return
		}

		resp := messagesResponse{Messages: rows, NextAfter: after}
		if rows == nil {
			resp.Messages = []*models.MessageRecord{}
		}
		if len(rows) > 0 {
			resp.NextAfter = rows[len(rows)-1].ID
		}
		middleware.WriteJSON(w, http.StatusOK, resp)
	}
}

type listenerState struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode,omitempty"`
}

func (s *Server) handleListenerState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, listenerState{
			Enabled: s.listener.Enabled(),
			Mode:    s.listener.Mode(),
		})
	}
}

func (s *Server) handleListenerToggle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !httputil.IsLocal(r) {
			middleware.WriteError(w, r, apperrors.New(apperrors.ErrCodeForbidden, "listener can only be toggled from this host"))
			return
		}
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.Enabled == nil {
			middleware.WriteError(w, r, apperrors.NewValidationError("enabled", "", "a boolean enabled field is required"))
			return
		}
		s.listener.SetEnabled(*req.Enabled)
		middleware.WriteJSON(w, http.StatusOK, listenerState{
			Enabled: s.listener.Enabled(),
			Mode:    s.listener.Mode(),
		})
	}
}

type healthResponse struct {
	Status           string `json:"status"`
	Messages         int    `json:"messages"`
	Pending          int    `json:"pending"`
	ListenerEnabled  bool   `json:"listener_enabled"`
	ConsumerAttached bool   `json:"consumer_attached"`
	Uptime           string `json:"uptime"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := s.store.Ping(ctx); err != nil {
			apperrors.WrapLogger(s.logger).LogError(err, "Health check failed")
			middleware.WriteError(w, r, apperrors.Wrap(err, apperrors.ErrCodeDatabaseConnection, "database unavailable"))
			return
		}

		messages, err := s.store.CountMessages(ctx, true)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		pending, err := s.store.CountPending(ctx)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		metrics.SetGauge(metrics.PendingEntries, float64(pending), nil)

		middleware.WriteJSON(w, http.StatusOK, healthResponse{
			Status:           "ok",
			Messages:         messages,
			Pending:          pending,
			ListenerEnabled:  s.listener.Enabled(),
			ConsumerAttached: s.notifier.Attached(),
			Uptime:           metrics.GetRegistry().Uptime().Round(time.Second).String(),
		})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pending, err := s.store.CountPending(r.Context()); err == nil {
			metrics.SetGauge(metrics.PendingEntries, float64(pending), nil)
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		metrics.GetRegistry().WritePrometheus(w, true)
	}
}
