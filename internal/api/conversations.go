package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/label"
	"github.com/parley-chat/parley/internal/store"
)

// listConversations returns the cached conversations in ranked order: most
// recently active first, with activity observed live, not recomputed from
// timestamps on every request.
func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.db.ListConversations()
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	byID := make(map[string]store.Conversation, len(convs))
	for _, c := range convs {
		byID[c.ID] = c
	}

	out := make([]conversationDTO, 0, len(convs))
	seen := make(map[string]bool, len(convs))
	for _, id := range h.tracker.IDs() {
		if c, ok := byID[id]; ok {
			out = append(out, toConversationDTO(c))
			seen[id] = true
		}
	}
	// Cached rows the tracker has not observed yet keep their stored order.
	for _, c := range convs {
		if !seen[c.ID] {
			out = append(out, toConversationDTO(c))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
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

	participants, err := h.db.ListParticipants(id)
	if err != nil {
		h.logger.Error("failed to list participants", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list participants")
		return
	}

	users := make([]userDTO, 0, len(participants))
	for _, u := range participants {
		users = append(users, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, struct {
		conversationDTO
		Participants []userDTO `json:"participants"`
	}{toConversationDTO(*conv), users})
}

// createConversation creates a conversation upstream and adds the
// participants. The two calls are not atomic on the backend; if the second
// fails the first is rolled back with a compensating delete so no orphan
// conversation survives.
func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ParticipantIDs) == 0 {
		writeError(w, http.StatusBadRequest, "participant_ids required")
		return
	}

	ids := req.ParticipantIDs
	if !slices.Contains(ids, h.gw.UserID()) {
		ids = append(slices.Clone(ids), h.gw.UserID())
	}

	ctx := r.Context()
	conv, err := h.gw.CreateConversation(ctx, req.Name, req.Avatar)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to create conversation")
		return
	}

	if err := h.gw.AddParticipants(ctx, conv.ID, ids); err != nil {
		h.logger.Error("failed to add participants, rolling back conversation",
			zap.Error(err), zap.String("conversation_id", conv.ID))
		if delErr := h.gw.DeleteConversation(ctx, conv.ID); delErr != nil {
			h.logger.Error("rollback delete failed, orphan conversation left upstream",
				zap.Error(delErr), zap.String("conversation_id", conv.ID))
		}
		writeError(w, http.StatusBadGateway, "failed to add participants")
		return
	}

	conv.IsGroup = len(ids) > 2
	if err := h.db.UpsertConversation(conv); err != nil {
		h.logger.Error("failed to cache conversation", zap.Error(err))
	}
	if err := h.db.AddParticipants(conv.ID, ids); err != nil {
		h.logger.Error("failed to cache participants", zap.Error(err))
	}
	h.tracker.Touch(conv.ID)

	writeJSON(w, http.StatusCreated, toConversationDTO(*conv))
}

// directConversation returns the existing two-party conversation with the
// given user, creating one when none exists yet.
func (h *Handler) directConversation(w http.ResponseWriter, r *http.Request) {
	var req directConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	existing, err := h.findDirectConversation(req.UserID)
	if err != nil {
		h.logger.Error("failed to look up direct conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to look up direct conversation")
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusOK, toConversationDTO(*existing))
		return
	}

	ctx := r.Context()
	ids := []string{h.gw.UserID(), req.UserID}
	conv, err := h.gw.CreateConversation(ctx, "", "")
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to create conversation")
		return
	}
	if err := h.gw.AddParticipants(ctx, conv.ID, ids); err != nil {
		h.logger.Error("failed to add participants, rolling back conversation",
			zap.Error(err), zap.String("conversation_id", conv.ID))
		if delErr := h.gw.DeleteConversation(ctx, conv.ID); delErr != nil {
			h.logger.Error("rollback delete failed, orphan conversation left upstream",
				zap.Error(delErr), zap.String("conversation_id", conv.ID))
		}
		writeError(w, http.StatusBadGateway, "failed to add participants")
		return
	}

	if err := h.db.UpsertConversation(conv); err != nil {
		h.logger.Error("failed to cache conversation", zap.Error(err))
	}
	if err := h.db.AddParticipants(conv.ID, ids); err != nil {
		h.logger.Error("failed to cache participants", zap.Error(err))
	}
	h.tracker.Touch(conv.ID)

	writeJSON(w, http.StatusCreated, toConversationDTO(*conv))
}

// findDirectConversation scans the cache for a non-group conversation whose
// participant set is exactly {me, other}.
func (h *Handler) findDirectConversation(otherID string) (*store.Conversation, error) {
	convs, err := h.db.ListConversations()
	if err != nil {
		return nil, err
	}
	me := h.gw.UserID()
	for i := range convs {
		if convs[i].IsGroup {
			continue
		}
		ids, err := h.db.ListParticipantIDs(convs[i].ID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 2 && slices.Contains(ids, me) && slices.Contains(ids, otherID) {
			return &convs[i], nil
		}
	}
	return nil, nil
}

func (h *Handler) setLabel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req labelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	lbl, err := label.Parse(req.Label)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gw.UpdateConversationLabel(r.Context(), id, string(lbl)); err != nil {
		h.logger.Error("failed to update label upstream", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to update label")
		return
	}
	if err := h.db.SetConversationLabel(id, string(lbl)); err != nil {
		h.logger.Error("failed to cache label", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"label": string(lbl)})
}

func (h *Handler) addParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req participantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "user_ids required")
		return
	}

	if err := h.gw.AddParticipants(r.Context(), id, req.UserIDs); err != nil {
		h.logger.Error("failed to add participants upstream", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to add participants")
		return
	}
	if err := h.db.AddParticipants(id, req.UserIDs); err != nil {
		h.logger.Error("failed to cache participants", zap.Error(err))
	}
	h.refreshGroupFlag(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userID")

	if err := h.gw.RemoveParticipant(r.Context(), id, userID); err != nil {
		h.logger.Error("failed to remove participant upstream", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to remove participant")
		return
	}
	if err := h.db.RemoveParticipant(id, userID); err != nil {
		h.logger.Error("failed to uncache participant", zap.Error(err))
	}
	h.refreshGroupFlag(id)
	if userID == h.gw.UserID() {
		h.tracker.Remove(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshGroupFlag re-derives is_group from the post-mutation participant
// count, same rule as conversation creation: more than two makes a group.
func (h *Handler) refreshGroupFlag(id string) {
	ids, err := h.db.ListParticipantIDs(id)
	if err != nil {
		h.logger.Error("failed to list participants for group flag", zap.Error(err), zap.String("conversation_id", id))
		return
	}
	if err := h.db.SetConversationGroup(id, len(ids) > 2); err != nil {
		h.logger.Error("failed to update group flag", zap.Error(err), zap.String("conversation_id", id))
	}
}
