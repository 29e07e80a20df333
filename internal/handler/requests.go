// Package handler exposes the HTTP API surface.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManoDarpan/ManoDarpan/internal/identity"
	"github.com/ManoDarpan/ManoDarpan/internal/middleware"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/service"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
)

// RequestHandler handles counselling request endpoints.
type RequestHandler struct {
	broker    *service.Broker
	directory identity.Directory
	logger    *logger.Logger
}

// NewRequestHandler creates a new request handler.
func NewRequestHandler(broker *service.Broker, directory identity.Directory, log *logger.Logger) *RequestHandler {
	return &RequestHandler{
		broker:    broker,
		directory: directory,
		logger:    log,
	}
}

// CreateRequestBody is the payload for creating a counselling request.
type CreateRequestBody struct {
	CounsellorID string `json:"counsellor_id"`
	Anonymous    bool   `json:"anonymous"`
}

// Create handles POST /api/v1/requests
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())

	var body CreateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateID(body.CounsellorID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.broker.Create(r.Context(), id.ID, body.CounsellorID, body.Anonymous)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// ListOwn handles GET /api/v1/requests
func (h *RequestHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())

	reqs, err := h.broker.ListForUser(r.Context(), id.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs})
}

// ListPending handles GET /api/v1/requests/pending
func (h *RequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())

	views, err := h.broker.ListPendingFor(r.Context(), id.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": views})
}

// Accept handles POST /api/v1/requests/{id}/accept
func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	requestID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.broker.Accept(r.Context(), requestID, id.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	userName := h.directory.DisplayName(r.Context(), conv.UserID, model.RoleUser)
	writeJSON(w, http.StatusOK, conv.View(id.Role, userName))
}

// Reject handles POST /api/v1/requests/{id}/reject
func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	requestID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.broker.Reject(r.Context(), requestID, id.ID); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}
