package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManoDarpan/ManoDarpan/internal/identity"
	"github.com/ManoDarpan/ManoDarpan/internal/middleware"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/realtime"
	"github.com/ManoDarpan/ManoDarpan/internal/service"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	registry  *service.Registry
	router    *realtime.Router
	directory identity.Directory
	logger    *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(registry *service.Registry, router *realtime.Router, directory identity.Directory, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		registry:  registry,
		router:    router,
		directory: directory,
		logger:    log,
	}
}

func (h *ConversationHandler) view(r *http.Request, conv *model.Conversation, viewer model.Role) model.ConversationView {
	userName := h.directory.DisplayName(r.Context(), conv.UserID, model.RoleUser)
	return conv.View(viewer, userName)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())

	var (
		convs []*model.Conversation
		err   error
	)
	if id.Role == model.RoleCounsellor {
		convs, err = h.registry.ListForCounsellor(r.Context(), id.ID)
	} else {
		convs, err = h.registry.ListForUser(r.Context(), id.ID)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}

	views := make([]model.ConversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, h.view(r, conv, id.Role))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": views})
}

// Active handles GET /api/v1/conversations/active
func (h *ConversationHandler) Active(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())

	var (
		conv *model.Conversation
		err  error
	)
	if id.Role == model.RoleCounsellor {
		conv, err = h.registry.ActiveForCounsellor(r.Context(), id.ID)
	} else {
		conv, err = h.registry.ActiveForUser(r.Context(), id.ID)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.view(r, conv, id.Role))
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.registry.Get(r.Context(), conversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !conv.Participant(id.ID) {
		writeAppError(w, apperr.Forbidden("not a participant"))
		return
	}

	writeJSON(w, http.StatusOK, h.view(r, conv, id.Role))
}

// End handles POST /api/v1/conversations/{id}/end
func (h *ConversationHandler) End(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.router.EndConversation(r.Context(), id, conversationID); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// Messages handles GET /api/v1/conversations/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.router.History(r.Context(), id, conversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// SendMessageBody is the payload for sending a message.
type SendMessageBody struct {
	Text string `json:"text"`
}

// SendMessage handles POST /api/v1/conversations/{id}/messages
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body SendMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(body.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.router.SendMessage(r.Context(), id, conversationID, body.Text)
	if err != nil {
		h.logger.Warn("send message rejected")
		writeJSON(w, statusOf(err), model.SendAck{Error: errorMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, model.SendAck{OK: true, ID: msg.ID})
}
