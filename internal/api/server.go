package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"peergenius/internal/auth"
	"peergenius/internal/router"
	"peergenius/pkg/interfaces"
	"peergenius/pkg/types"
)

// Registry exposes the connection statistics the health endpoint reports
type Registry interface {
	GetStats() map[string]int
}

// TokenVerifier validates bearer tokens on write endpoints. Nil runs the
// API in open mode
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// ARCHITECTURAL DISCOVERY: HTTP API layer is a pure interface between external
// clients and internal components. No business logic, only HTTP handling and
// JSON serialization; message semantics live in the router
type Server struct {
	router   *router.Router
	store    interfaces.HistoryStore
	registry Registry
	verifier TokenVerifier
	mux      *http.ServeMux
}

// NewServer wires handlers onto a fresh mux. verifier may be nil
func NewServer(messageRouter *router.Router, store interfaces.HistoryStore, registry Registry, verifier TokenVerifier) *Server {
	s := &Server{
		router:   messageRouter,
		store:    store,
		registry: registry,
		verifier: verifier,
		mux:      http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/api/threads/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleThreads))))
	s.mux.Handle("/api/messages/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleMessages))))
	s.mux.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleThreads routes /api/threads/{id}/messages
func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/threads/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "messages" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	threadID := parts[0]

	if !types.IsValidThreadID(threadID) {
		s.sendError(w, "Invalid thread ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.postMessage(w, r, threadID)
	case http.MethodGet:
		s.listMessages(w, r, threadID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMessages routes /api/messages/{id}/reactions
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/messages/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "reactions" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	messageID := parts[0]

	switch r.Method {
	case http.MethodPut:
		s.toggleReaction(w, r, messageID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type PostMessageRequest struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
}

type ToggleReactionRequest struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type ListMessagesResponse struct {
	Messages []*types.Message `json:"messages"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// authenticate resolves the acting user. With a verifier configured the
// token is authoritative and the request body may not impersonate another
// user; in open mode the body is trusted as-is
func (s *Server) authenticate(r *http.Request, claimedID string) (userID, displayName string, err error) {
	if s.verifier == nil {
		return claimedID, "", nil
	}

	token := auth.ExtractTokenFromRequest(r)
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return "", "", err
	}
	if claimedID != "" && claimedID != claims.Subject {
		return "", "", interfaces.ErrUnauthorized
	}
	return claims.Subject, claims.DisplayName, nil
}

// POST /api/threads/{id}/messages - persist a message, then fan it out to
// connected room members
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, threadID string) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	senderID, displayName, err := s.authenticate(r, req.SenderID)
	if err != nil {
		s.sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	senderName := req.SenderName
	if displayName != "" {
		senderName = displayName
	}

	message, err := s.router.PostMessage(r.Context(), threadID, senderID, senderName, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrRateLimitExceeded):
			s.sendError(w, "Rate limit exceeded", http.StatusTooManyRequests)
		case errors.Is(err, types.ErrEmptyContent),
			errors.Is(err, types.ErrContentTooLarge),
			errors.Is(err, types.ErrInvalidUserID),
			errors.Is(err, types.ErrInvalidDisplayName):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		default:
			s.sendError(w, "Failed to post message", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(message)
}

// PUT /api/messages/{id}/reactions - toggle the caller's reaction
func (s *Server) toggleReaction(w http.ResponseWriter, r *http.Request, messageID string) {
	var req ToggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	userID, _, err := s.authenticate(r, req.UserID)
	if err != nil {
		s.sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !types.IsValidUserID(userID) {
		s.sendError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	message, err := s.router.ToggleReaction(r.Context(), messageID, userID, req.Emoji)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrMessageNotFound):
			s.sendError(w, "Message not found", http.StatusNotFound)
		case errors.Is(err, router.ErrInvalidReaction):
			s.sendError(w, "Invalid reaction", http.StatusBadRequest)
		case errors.Is(err, router.ErrRateLimitExceeded):
			s.sendError(w, "Rate limit exceeded", http.StatusTooManyRequests)
		default:
			s.sendError(w, "Failed to update reaction", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(message)
}

// GET /api/threads/{id}/messages?before=<unix-ms>&limit=<n> - thread history,
// newest first
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, threadID string) {
	var before int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.sendError(w, "Invalid before cursor", http.StatusBadRequest)
			return
		}
		before = parsed
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	messages, err := s.store.ListThreadMessages(r.Context(), threadID, before, limit)
	if err != nil {
		s.sendError(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}

	json.NewEncoder(w).Encode(ListMessagesResponse{Messages: messages})
}

// GET /health - component health with connection statistics
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// CORS is wide open; deployments front this with a proxy that restricts
// origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
