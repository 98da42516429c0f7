// Package httpapi serves the conversation API and streams turns as
// Server-Sent Events.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
)

// UserHeader carries the id of the calling user.
const UserHeader = "X-User-Id"

// TurnStarter starts chat turns.
type TurnStarter interface {
	StartTurn(ctx context.Context, req chat.TurnRequest) (*chat.Stream, error)
}

// CallbackResolver resolves pending UI requests.
type CallbackResolver interface {
	Complete(id types.CallbackID, value any) bool
}

// MessageLister lists every message of a conversation.
type MessageLister interface {
	List(ctx context.Context, conversationID int64) ([]*types.Message, error)
}

// Options configures a Server.
type Options struct {
	Engine        TurnStarter
	Conversations types.ConversationStore
	Messages      MessageLister
	Users         types.UserStore
	Callbacks     CallbackResolver
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	// DefaultConfiguration is used when a new conversation names none.
	DefaultConfiguration int64
	Texts                texts.Texts
	Logger               *slog.Logger
}

// Server is the HTTP handler of the chat service.
type Server struct {
	opts   Options
	texts  texts.Texts
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		texts:  opts.Texts.WithDefaults(),
		logger: opts.Logger,
		mux:    http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}
	s.mux.HandleFunc("GET /api/conversations", s.withUser(s.handleListConversations))
	s.mux.HandleFunc("POST /api/conversations", s.withUser(s.handleCreateConversation))
	s.mux.HandleFunc("GET /api/conversations/{id}/messages", s.withUser(s.handleListMessages))
	s.mux.HandleFunc("POST /api/conversations/{id}/messages/sse", s.withUser(s.handleSend))
	s.mux.HandleFunc("PUT /api/conversations/{id}/messages/{messageId}/sse", s.withUser(s.handleEdit))
	s.mux.HandleFunc("DELETE /api/conversations/confirm/{id}", s.handleConfirm)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type userHandler func(w http.ResponseWriter, r *http.Request, user *types.User)

// withUser resolves the calling user from UserHeader.
func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
			return
		}
		user, err := s.opts.Users.Get(r.Context(), id)
		if err != nil {
			s.fail(w, "resolve user", err)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user *types.User) {
	conversations, err := s.opts.Conversations.List(r.Context(), user.ID)
	if err != nil {
		s.fail(w, "list conversations", err)
		return
	}
	if conversations == nil {
		conversations = []*types.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

type createConversationRequest struct {
	ConfigurationID int64             `json:"configuration_id"`
	Name            string            `json:"name"`
	Context         map[string]string `json:"context"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, user *types.User) {
	var req createConversationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.ConfigurationID == 0 {
		req.ConfigurationID = s.opts.DefaultConfiguration
	}
	c := &types.Conversation{
		UserID:          user.ID,
		ConfigurationID: req.ConfigurationID,
		Name:            req.Name,
		NameSetManually: req.Name != "",
		Context:         req.Context,
	}
	if err := s.opts.Conversations.Create(r.Context(), c); err != nil {
		s.fail(w, "create conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, user *types.User) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.opts.Conversations.Get(r.Context(), id, user); err != nil {
		s.fail(w, "load conversation", err)
		return
	}
	messages, err := s.opts.Messages.List(r.Context(), id)
	if err != nil {
		s.fail(w, "list messages", err)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendRequest struct {
	Input string       `json:"input"`
	Files []types.File `json:"files,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, user *types.User) {
	s.startTurn(w, r, user, false)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request, user *types.User) {
	s.startTurn(w, r, user, true)
}

func (s *Server) startTurn(w http.ResponseWriter, r *http.Request, user *types.User, edit bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	turn := chat.TurnRequest{ConversationID: id, User: user}
	if edit {
		if turn.EditMessageID, ok = pathID(w, r, "messageId"); !ok {
			return
		}
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	turn.Input, turn.Files = req.Input, req.Files

	stream, err := s.opts.Engine.StartTurn(r.Context(), turn)
	if err != nil {
		s.fail(w, "start turn", err)
		return
	}
	s.logger.Debug("turn streaming", "conversation", id, "user", user.ID, "edit", turn.EditMessageID)
	s.bridge(w, r, stream)
}

type confirmRequest struct {
	Result any `json:"result"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id := types.CallbackID(r.PathValue("id"))
	if !s.opts.Callbacks.Complete(id, req.Result) {
		writeError(w, http.StatusNotFound, "no pending request accepts this result")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps lookup errors to their status and hides everything else.
func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, types.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		s.logger.Error(action+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
