// Package api serves the skills ranking backend over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/store"
)

const maxBodyBytes int64 = 64 << 10

// Store is the persistence used by the server.
type Store interface {
	CreateSession(ctx context.Context, group model.ExperimentGroup, score float64) (model.SkillsRankingSessionState, error)
	GetSession(ctx context.Context, id int64) (model.SkillsRankingSessionState, error)
	UpdateSkillsRankingState(ctx context.Context, update model.StateUpdate) (model.SkillsRankingSessionState, error)
	UpdateMetrics(ctx context.Context, sessionID int64, report model.EffortMetricsReport) error
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	ExperimentGroup model.ExperimentGroup `json:"experiment_group"`
	Score           float64               `json:"score"`
}

// Server exposes a Store over REST.
type Server struct {
	store  Store
	logger *zap.Logger
	router chi.Router
}

// NewServer builds the router.
func NewServer(st Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: st, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{sessionID}", s.handleGetSession)
		r.Patch("/{sessionID}/state", s.handleUpdateState)
		r.Put("/{sessionID}/metrics", s.handleUpdateMetrics)
	})
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving backend", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return <-serverErr
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if status, err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}
	state, err := s.store.CreateSession(r.Context(), req.ExperimentGroup, req.Score)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	sessionsCreated.WithLabelValues(string(state.ExperimentGroup)).Inc()
	respondJSON(w, http.StatusCreated, state)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	state, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	var update model.StateUpdate
	if status, err := decodeJSONBody(w, r, &update); err != nil {
		respondError(w, status, err)
		return
	}
	update.SessionID = id
	state, err := s.store.UpdateSkillsRankingState(r.Context(), update)
	if err != nil {
		stateUpdates.WithLabelValues(string(update.NextPhase), resultLabel(err)).Inc()
		s.respondStoreError(w, r, err)
		return
	}
	stateUpdates.WithLabelValues(string(update.NextPhase), resultLabel(nil)).Inc()
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleUpdateMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	var report model.EffortMetricsReport
	if status, err := decodeJSONBody(w, r, &report); err != nil {
		respondError(w, status, err)
		return
	}
	err = s.store.UpdateMetrics(r.Context(), id, report)
	metricUpdates.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, model.ErrUnknownExperimentGroup):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	respondError(w, status, err)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func sessionIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "sessionID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", raw)
	}
	return id, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) (int, error) {
	if r.Body == nil {
		return http.StatusBadRequest, errors.New("request body required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBodyBytes)
		}
		if errors.Is(err, io.EOF) {
			return http.StatusBadRequest, errors.New("request body required")
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Status: status})
}
