package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManoDarpan/ManoDarpan/internal/middleware"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/realtime"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
	"github.com/ManoDarpan/ManoDarpan/pkg/metrics"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// StreamHandler handles the SSE streaming endpoints.
type StreamHandler struct {
	router *realtime.Router
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(router *realtime.Router, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		router: router,
		logger: log,
	}
}

// Stream handles GET /api/v1/stream
//
// The connection is subscribed to the caller's personal room and the shared
// presence room; conversation rooms are joined through the Join endpoint
// using the connection id delivered in the connected event.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := middleware.GetIdentity(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	conn := h.router.Connect(id)
	defer h.router.Disconnect(conn.ID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event := <-conn.Events():
			sendSSEEvent(w, flusher, event)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, model.NewEvent(model.EventHeartbeat, model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			}))
		}
	}
}

// JoinBody is the payload for joining a conversation room.
type JoinBody struct {
	ConversationID string `json:"conversation_id"`
}

// Join handles POST /api/v1/stream/{connID}/join
func (h *StreamHandler) Join(w http.ResponseWriter, r *http.Request) {
	connID := chi.URLParam(r, "connID")

	var body JoinBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateID(body.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, ok := h.router.Conn(connID)
	if !ok {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	id, _ := middleware.GetIdentity(r.Context())
	if conn.Identity.ID != id.ID {
		writeError(w, http.StatusForbidden, "connection belongs to another identity")
		return
	}

	if err := h.router.JoinConversation(r.Context(), connID, body.ConversationID); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// Online handles GET /api/v1/counsellors/online
func (h *StreamHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counsellors": h.router.OnlineCounsellors(),
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event model.Event) {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
