package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const defaultSearchLimit = 50

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")

	limit := defaultSearchLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	results, err := h.db.SearchMessages(q, conversationID, limit)
	if err != nil {
		h.logger.Error("search failed", zap.Error(err), zap.String("query", q))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	out := make([]searchResultDTO, 0, len(results))
	for _, res := range results {
		out = append(out, searchResultDTO{
			Message: toMessageDTO(res.Message),
			Snippet: res.Snippet,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
