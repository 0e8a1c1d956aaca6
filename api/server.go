package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/service"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
	"go.uber.org/zap"
)

// Server represents the REST API server
type Server struct {
	service service.TrackingService
	ws      http.Handler
	router  *mux.Router
	logger  *zap.Logger
}

// NewServer creates a new API server. ws serves the /ws upgrade and may be
// nil.
func NewServer(svc service.TrackingService, ws http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: svc,
		ws:      ws,
		router:  mux.NewRouter(),
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Live connections
	api.HandleFunc("/connections", s.handleListConnections).Methods("GET")
	api.HandleFunc("/connections/{userId}", s.handleDisconnect).Methods("DELETE")

	// History
	api.HandleFunc("/buses/{busId:[0-9]+}/locations", s.handleLocationHistory).Methods("GET")
	api.HandleFunc("/buses/{busId:[0-9]+}/location", s.handleLatestLocation).Methods("GET")
	api.HandleFunc("/users/{userId}/messages", s.handleMessages).Methods("GET")
	api.HandleFunc("/messages/{id:[0-9]+}/read", s.handleMarkRead).Methods("POST")

	if s.ws != nil {
		s.router.Handle("/ws", s.ws)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service and store errors to status codes.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, service.ErrNotConnected):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	var role directory.Role
	if v := r.URL.Query().Get("role"); v != "" {
		parsed, err := directory.ParseRole(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		role = parsed
	}

	conns, err := s.service.ListConnections(r.Context(), role)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(conns),
		"connections": conns,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	if err := s.service.Disconnect(r.Context(), userID); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.logger.Info("connection closed by operator request", zap.String("user", userID))
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("User %s disconnected", userID),
	})
}

func (s *Server) handleLocationHistory(w http.ResponseWriter, r *http.Request) {
	busID, err := strconv.ParseInt(mux.Vars(r)["busId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bus id")
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.service.LocationHistory(r.Context(), busID, limit)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if samples == nil {
		samples = []store.LocationSample{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bus_id":    busID,
		"count":     len(samples),
		"locations": samples,
	})
}

func (s *Server) handleLatestLocation(w http.ResponseWriter, r *http.Request) {
	busID, err := strconv.ParseInt(mux.Vars(r)["busId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bus id")
		return
	}

	sample, err := s.service.LatestLocation(r.Context(), busID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sample)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := s.service.Messages(r.Context(), userID, limit)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"count":    len(msgs),
		"messages": msgs,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := s.service.MarkMessageRead(r.Context(), id, req.UserID); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Message %d marked as read", id),
	})
}
