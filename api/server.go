package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wricardo/verifygate/gate/config"
	"github.com/wricardo/verifygate/gate/logging"
	"github.com/wricardo/verifygate/gate/service"
	"github.com/wricardo/verifygate/gate/session"
	"github.com/wricardo/verifygate/transport/presenter"
	"github.com/wricardo/verifygate/transport/websocket"
)

// ReloadFunc re-reads the configuration and applies it
type ReloadFunc func(ctx context.Context) error

// Server represents the REST API server
type Server struct {
	service  service.VerificationService
	gateway  *websocket.Gateway
	renderer *presenter.Renderer
	metrics  http.Handler
	reload   ReloadFunc
	logger   *slog.Logger
	router   *mux.Router
}

// Option configures a Server
type Option func(*Server)

// WithGateway serves the websocket endpoints through gw
func WithGateway(gw *websocket.Gateway) Option {
	return func(s *Server) { s.gateway = gw }
}

// WithRenderer adds rendered message lines to submission responses
func WithRenderer(r *presenter.Renderer) Option {
	return func(s *Server) { s.renderer = r }
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithReload enables POST /api/config/reload
func WithReload(fn ReloadFunc) Option {
	return func(s *Server) { s.reload = fn }
}

// WithLogger sets the request logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new API server
func NewServer(svc service.VerificationService, opts ...Option) *Server {
	s := &Server{
		service: svc,
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger).With("component", "api")

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	api := s.router.PathPrefix("/api").Subrouter()

	// User lifecycle
	api.HandleFunc("/users", s.handleListUsers).Methods("GET")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{id}", s.handleDepart).Methods("DELETE")
	api.HandleFunc("/users/{id}/arrive", s.handleArrive).Methods("POST")
	api.HandleFunc("/users/{id}/submit", s.handleSubmit).Methods("POST")
	api.HandleFunc("/users/{id}/actions", s.handleAddAction).Methods("POST")
	api.HandleFunc("/users/{id}/kick", s.handleKick).Methods("POST")

	// Gate administration
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config/reload", s.handleReload).Methods("POST")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/ws/watch", s.handleWatch)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.DebugContext(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors onto status codes
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUser):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNotPending):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrServiceClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeOptional decodes a JSON body when one is present
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// User Handlers

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	result, err := s.service.OnArrived(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Required {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}

type submitResponse struct {
	*service.Outcome
	Lines []string `json:"lines,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcome, err := s.service.Submit(r.Context(), userID, req.Code)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := submitResponse{Outcome: outcome}
	if s.renderer != nil {
		resp.Lines = s.renderer.Outcome(userID, outcome)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddAction(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var action session.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if action.Command == "" {
		respondError(w, http.StatusBadRequest, "command is required")
		return
	}

	if err := s.service.AddAction(r.Context(), userID, action); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	info, err := s.service.Kick(r.Context(), userID, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	info, ok := s.service.Query(r.Context(), userID)
	if !ok {
		respondError(w, http.StatusNotFound, service.ErrSessionNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDepart(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	removed := s.service.OnDeparted(r.Context(), userID)
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"removed": removed,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	sessions := s.service.List(r.Context())
	total := len(sessions)

	query := r.URL.Query()
	if statusStr := query.Get("status"); statusStr != "" {
		status, err := session.ParseStatus(statusStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filtered := sessions[:0]
		for _, info := range sessions {
			if info.Status == status {
				filtered = append(filtered, info)
			}
		}
		sessions = filtered
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
	})
}

// Administration Handlers

type statusResponse struct {
	*service.StatusInfo
	Connections *connections `json:"connections,omitempty"`
}

type connections struct {
	Users    int `json:"users"`
	Watchers int `json:"watchers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{StatusInfo: s.service.Status(r.Context())}
	if s.gateway != nil {
		if users, watchers, err := s.gateway.Hub().Counts(r.Context()); err == nil {
			resp.Connections = &connections{Users: users, Watchers: watchers}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := config.Marshal(s.service.Config().Redacted())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		respondError(w, http.StatusNotImplemented, "configuration reload is not available")
		return
	}

	if err := s.reload(r.Context()); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    err.Error(),
				"problems": verr.Problems,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, s.service.Status(r.Context()))
}

// WebSocket Handlers

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		http.Error(w, "websocket transport disabled", http.StatusNotFound)
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user parameter required", http.StatusBadRequest)
		return
	}
	s.gateway.ServeUser(w, r, userID)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		http.Error(w, "websocket transport disabled", http.StatusNotFound)
		return
	}
	s.gateway.ServeWatcher(w, r)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
