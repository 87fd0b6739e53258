// Package api exposes the daemon control surface consumed by parleyctl: a
// JSON API plus an event stream, served over the profile's unix socket.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/ranking"
	"github.com/parley-chat/parley/internal/status"
	"github.com/parley-chat/parley/internal/store"
)

// Gateway is the slice of the backend client the handlers need. Reads are
// served from the cache; only mutations go upstream.
type Gateway interface {
	UserID() string
	Authenticated() bool
	CreateConversation(ctx context.Context, name, avatar string) (*store.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	AddParticipants(ctx context.Context, conversationID string, userIDs []string) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	UpdateConversationLabel(ctx context.Context, conversationID, label string) error
}

// Handler carries the daemon state the HTTP handlers operate on.
type Handler struct {
	profile string
	db      *store.DB
	gw      Gateway
	bus     *bus.Bus
	tracker *ranking.Tracker
	machine *status.Machine
	logger  *zap.Logger
}

// NewHandler creates the control API handler.
func NewHandler(profile string, db *store.DB, gw Gateway, b *bus.Bus, tracker *ranking.Tracker, machine *status.Machine, logger *zap.Logger) *Handler {
	return &Handler{
		profile: profile,
		db:      db,
		gw:      gw,
		bus:     b,
		tracker: tracker,
		machine: machine,
		logger:  logger,
	}
}

// Router builds the route table.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/users", h.listUsers)
		r.Get("/search", h.search)
		r.Get("/events", h.streamEvents)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.listConversations)
			r.Post("/", h.createConversation)
			r.Post("/direct", h.directConversation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getConversation)
				r.Get("/messages", h.listMessages)
				r.Post("/messages", h.sendMessage)
				r.Put("/label", h.setLabel)
				r.Post("/participants", h.addParticipants)
				r.Delete("/participants/{userID}", h.removeParticipant)
			})
		})
	})
	return r
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Profile:       h.profile,
		State:         string(h.machine.Current()),
		UserID:        h.gw.UserID(),
		Authenticated: h.gw.Authenticated(),
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers()
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, out)
}
