package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/matheus3301/wppdash/internal/call"
	"github.com/matheus3301/wppdash/internal/model"
	"github.com/matheus3301/wppdash/internal/notify"
	"github.com/matheus3301/wppdash/internal/reconcile"
	"github.com/matheus3301/wppdash/internal/registry"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Handler serves the daemon's HTTP surface: session lifecycle, conversation
// views, call control, and the notice endpoints. State lives in the injected
// components; the handler only translates HTTP into their operations.
type Handler struct {
	registry   *registry.Registry
	reconciler *reconcile.Reconciler
	calls      *call.Coordinator
	notices    *notify.Dispatcher
	stream     *Stream
	logger     *zap.Logger
}

// New creates the API handler.
func New(reg *registry.Registry, rec *reconcile.Reconciler, calls *call.Coordinator, notices *notify.Dispatcher, stream *Stream, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry:   reg,
		reconciler: rec,
		calls:      calls,
		notices:    notices,
		stream:     stream,
		logger:     logger,
	}
}

// Router builds the chi router for the daemon API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.handleListSessions)
		r.Post("/sessions", h.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/logout", h.handleLogout)
			r.Post("/select", h.handleSelectSession)
			r.Get("/qr.png", h.handleQR)
			r.Get("/conversations", h.handleListConversations)
			r.Route("/conversations/{cid}", func(r chi.Router) {
				r.Post("/select", h.handleSelectConversation)
				r.Get("/messages", h.handleListMessages)
			})
		})
		r.Route("/call", func(r chi.Router) {
			r.Get("/", h.handleGetCall)
			r.Post("/start", h.handleStartCall)
			r.Post("/accept", h.handleAcceptCall)
			r.Post("/end", h.handleEndCall)
		})
		r.Route("/notice", func(r chi.Router) {
			r.Get("/", h.handleGetNotice)
			r.Post("/dismiss", h.handleDismissNotice)
			r.Post("/click", h.handleClickNotice)
		})
		r.Get("/events", h.stream.ServeHTTP)
	})
	return r
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.Sessions())
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !sessionIDPattern.MatchString(payload.SessionID) {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := h.registry.CreateSession(r.Context(), payload.SessionID); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"sessionId": payload.SessionID})
}

// handleLogout requires explicit confirmation. The session stays visible
// until the provider acknowledges with a logged-out event.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !payload.Confirm {
		respondError(w, http.StatusBadRequest, "logout requires confirmation")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := h.registry.Get(id); !ok {
		respondError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err := h.registry.Logout(r.Context(), id); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "logout requested"})
}

func (h *Handler) handleSelectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Select(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.reconciler.ClearSelection()
	// The conversation list is fetched on selection; a failed fetch leaves
	// whatever the push stream has built so far.
	if err := h.reconciler.SeedConversations(r.Context(), id); err != nil {
		h.logger.Warn("conversation seed failed", zap.Error(err), zap.String("session", id))
	}
	session, _ := h.registry.Get(id)
	// Outbound call signaling identifies as the selected session's account.
	h.calls.SetIdentity(id, session.UserInfo.DisplayName())
	respondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := h.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown session")
		return
	}
	if session.QRCode == "" {
		respondError(w, http.StatusNotFound, "no pairing code pending")
		return
	}
	png, err := qrcode.Encode(session.QRCode, qrcode.Medium, 256)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	convs := h.reconciler.Conversations(id)
	if convs == nil {
		convs = []model.Conversation{}
	}
	respondJSON(w, http.StatusOK, convs)
}

func (h *Handler) handleSelectConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cid := chi.URLParam(r, "cid")
	msgs, err := h.reconciler.SelectConversation(r.Context(), id, cid)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cid := chi.URLParam(r, "cid")
	msgs := h.reconciler.Messages(id, cid)
	if msgs == nil {
		msgs = []model.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleGetCall(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.calls.Current())
}

func (h *Handler) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PeerID string `json:"peerId"`
		Name   string `json:"name"`
		Video  bool   `json:"video"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.PeerID == "" {
		respondError(w, http.StatusBadRequest, "peerId is required")
		return
	}
	if err := h.calls.Initiate(payload.PeerID, payload.Name, payload.Video); err != nil {
		respondError(w, callErrStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.calls.Current())
}

func (h *Handler) handleAcceptCall(w http.ResponseWriter, r *http.Request) {
	if err := h.calls.Accept(); err != nil {
		respondError(w, callErrStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.calls.Current())
}

func (h *Handler) handleEndCall(w http.ResponseWriter, r *http.Request) {
	h.calls.End()
	respondJSON(w, http.StatusOK, h.calls.Current())
}

func (h *Handler) handleGetNotice(w http.ResponseWriter, r *http.Request) {
	n := h.notices.Current()
	if n == nil {
		respondJSON(w, http.StatusOK, map[string]any{"notice": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notice": n})
}

func (h *Handler) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	h.notices.Dismiss()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleClickNotice clears the notice and, when it pointed at a
// conversation, selects that conversation and returns the snapshot route.
func (h *Handler) handleClickNotice(w http.ResponseWriter, r *http.Request) {
	route, ok := h.notices.Click()
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"routed": false})
		return
	}
	if err := h.registry.Select(route.SessionID); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"routed": false})
		return
	}
	if _, err := h.reconciler.SelectConversation(r.Context(), route.SessionID, route.ConversationID); err != nil {
		h.logger.Warn("notice route snapshot failed", zap.Error(err))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"routed":    true,
		"sessionId": route.SessionID,
		"chatId":    route.ConversationID,
	})
}

func callErrStatus(err error) int {
	switch {
	case errors.Is(err, call.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, call.ErrNoCall):
		return http.StatusNotFound
	case errors.Is(err, call.ErrMediaUnavailable):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}
