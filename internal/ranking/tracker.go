// Package ranking maintains the conversation display order: most recently
// active first, decoupled from the conversation records themselves.
package ranking

import (
	"context"
	"slices"
	"sync"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

// Tracker holds an explicit ordered sequence of conversation ids. Mutations
// come from two places: the initial seed after bootstrap and move-to-front
// touches driven by message events on the bus. Last-applied wins when
// events for different conversations race.
type Tracker struct {
	mu     sync.RWMutex
	order  []string
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewTracker creates an empty tracker.
func NewTracker(b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{bus: b, logger: logger}
}

// Seed replaces the order with the initial ranking: conversations sorted by
// cached last-message timestamp descending; conversations without messages
// sort after all active ones, newest created first.
func (t *Tracker) Seed(convs []store.Conversation) {
	sorted := slices.Clone(convs)
	slices.SortStableFunc(sorted, func(a, b store.Conversation) int {
		if a.LastMessageAt != b.LastMessageAt {
			if a.LastMessageAt > b.LastMessageAt {
				return -1
			}
			return 1
		}
		if a.CreatedAt != b.CreatedAt {
			if a.CreatedAt > b.CreatedAt {
				return -1
			}
			return 1
		}
		return 0
	})

	order := make([]string, 0, len(sorted))
	for _, c := range sorted {
		order = append(order, c.ID)
	}

	t.mu.Lock()
	t.order = order
	t.mu.Unlock()
}

// Touch moves a conversation to the front. Unknown ids are inserted at the
// front, so a feed event can precede the conversation fetch that caches it.
func (t *Tracker) Touch(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	t.order = slices.Insert(t.order, 0, id)
}

// Remove drops a conversation from the order.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
}

// IDs returns a snapshot of the current display order.
func (t *Tracker) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.order)
}

// Start subscribes to message and conversation events on the bus and keeps
// the order current. Both the optimistic pipeline and the realtime feed end
// up here through the same events, so a send and a received message rank
// identically.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	msgCh, unsubMsg := t.bus.Subscribe("message.", 256)
	convCh, unsubConv := t.bus.Subscribe("conversation.", 64)

	go func() {
		defer unsubMsg()
		defer unsubConv()
		for {
			select {
			case evt := <-msgCh:
				if evt.Kind == bus.KindMessageUpserted {
					t.Touch(conversationID(evt))
				}
			case evt := <-convCh:
				if evt.Kind == bus.KindConversationUpserted {
					t.Touch(conversationID(evt))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event loop.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func conversationID(evt bus.Event) string {
	payload, ok := evt.Payload.(map[string]string)
	if !ok {
		return ""
	}
	return payload["conversation_id"]
}
