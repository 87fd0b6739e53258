package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/timeline"
)

const defaultMessageLimit = 200

// listMessages returns a conversation's transcript grouped into date
// buckets, oldest bucket first, newest messages at the bottom.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := defaultMessageLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	var before int64
	if b := r.URL.Query().Get("before"); b != "" {
		if parsed, err := strconv.ParseInt(b, 10, 64); err == nil && parsed > 0 {
			before = parsed
		}
	}

	msgs, err := h.db.ListMessages(id, before, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	buckets := timeline.Group(msgs, time.Now())
	writeJSON(w, http.StatusOK, toBucketDTOs(buckets))
}

// sendMessage queues an outgoing message. The response is immediate; the
// pipeline picks the entry up, inserts the provisional row and talks to the
// backend. Progress is observable on /v1/events.
func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" && req.AttachmentPath == "" {
		writeError(w, http.StatusBadRequest, "message needs content or an attachment")
		return
	}

	conv, err := h.db.GetConversation(id)
	if err != nil {
		h.logger.Error("failed to get conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	clientMsgID := store.ProvisionalIDPrefix + uuid.NewString()
	if err := h.db.QueueOutbox(clientMsgID, id, req.Content, req.AttachmentPath); err != nil {
		h.logger.Error("failed to queue message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue message")
		return
	}

	writeJSON(w, http.StatusAccepted, sendMessageResponse{ClientMsgID: clientMsgID})
}
