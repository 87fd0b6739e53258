// Package sync ingests backend state into the local cache: live feed events
// as they arrive, and full snapshots on startup and reconnect. Every write
// is idempotent, so replayed or duplicated events converge to the same rows.
package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/backend"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/store"
)

// Gateway is the slice of the backend client the engine needs.
type Gateway interface {
	UserID() string
	FetchConversations(ctx context.Context) ([]backend.Conversation, error)
	FetchConversation(ctx context.Context, id string) (*backend.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	FetchUsers(ctx context.Context) ([]store.User, error)
}

// Engine handles ingestion of feed events and snapshot syncs into the store.
type Engine struct {
	db     *store.DB
	gw     Gateway
	bus    *bus.Bus
	logger *zap.Logger
	recon  *Reconciler
	cancel context.CancelFunc
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, gw Gateway, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		gw:     gw,
		bus:    b,
		logger: logger,
		recon:  NewReconciler(db, logger),
	}
}

// Start subscribes to feed events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("feed.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindFeedMessageInserted:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(ctx, msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.MsgID))
		}
	case bus.KindFeedConversationInserted:
		conv, ok := evt.Payload.(store.Conversation)
		if !ok {
			return
		}
		if err := e.ingestConversationByID(ctx, conv.ID); err != nil {
			e.logger.Error("failed to ingest conversation", zap.Error(err), zap.String("conversation_id", conv.ID))
		}
	case bus.KindFeedUp:
		// The feed was down for an unknown window, catch up with a snapshot.
		go func() {
			if err := e.Resync(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("resync after reconnect failed", zap.Error(err))
			}
		}()
	}
}

// IngestMessage processes one inbound message (idempotent). Messages for
// conversations the current user is not a member of are dropped; a message
// for an unknown conversation triggers an enrichment fetch first.
func (e *Engine) IngestMessage(ctx context.Context, msg *store.Message) error {
	member, err := e.db.IsParticipant(msg.ConversationID, e.gw.UserID())
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !member {
		known, err := e.db.GetConversation(msg.ConversationID)
		if err != nil {
			return err
		}
		if known != nil {
			// Cached conversation without us in it: not ours.
			return nil
		}
		if err := e.ingestConversationByID(ctx, msg.ConversationID); err != nil {
			return err
		}
		if member, err = e.db.IsParticipant(msg.ConversationID, e.gw.UserID()); err != nil || !member {
			return err
		}
	}

	if err := e.db.TouchConversation(msg.ConversationID, msg.Timestamp, store.Preview(msg)); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": msg.ConversationID,
			"msg_id":          msg.MsgID,
		},
	})
	return nil
}

// ingestConversationByID fetches the assembled conversation from the backend
// and caches it if the current user participates.
func (e *Engine) ingestConversationByID(ctx context.Context, id string) error {
	conv, err := e.gw.FetchConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch conversation: %w", err)
	}
	if conv == nil {
		return nil
	}

	me := e.gw.UserID()
	mine := false
	for _, p := range conv.Participants {
		if p.ID == me {
			mine = true
			break
		}
	}
	if !mine {
		return nil
	}
	return e.ingestConversation(conv, true)
}

// ingestConversation caches one assembled conversation. live distinguishes
// a real-time insert from snapshot ingestion: only live ingestion announces
// the conversation as fresh activity. A snapshot walks conversations
// most-active-first, so per-row activity events would rebuild the ranking
// in reverse; snapshot consumers wait for sync.completed and re-seed from
// the cache instead.
func (e *Engine) ingestConversation(conv *backend.Conversation, live bool) error {
	if err := e.db.UpsertConversation(&conv.Conversation); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	ids := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if err := e.db.UpsertUser(&p); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		ids = append(ids, p.ID)
	}
	if err := e.db.ReplaceParticipants(conv.ID, ids); err != nil {
		return fmt.Errorf("replace participants: %w", err)
	}

	if live {
		e.bus.Publish(bus.Event{
			Kind:      bus.KindConversationUpserted,
			Timestamp: time.Now(),
			Payload: map[string]string{
				"conversation_id": conv.ID,
			},
		})
	}
	return nil
}

// Bootstrap pulls the full snapshot: user directory, every conversation the
// user participates in, and each conversation's message history.
func (e *Engine) Bootstrap(ctx context.Context) error {
	start := time.Now()

	users, err := e.gw.FetchUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	for i := range users {
		if err := e.db.UpsertUser(&users[i]); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
	}

	convs, err := e.gw.FetchConversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}

	total := 0
	for i := range convs {
		if err := e.ingestConversation(&convs[i], false); err != nil {
			return err
		}
		msgs, err := e.gw.FetchMessages(ctx, convs[i].ID)
		if err != nil {
			return fmt.Errorf("fetch messages for %s: %w", convs[i].ID, err)
		}
		if err := e.ingestHistoryBatch(msgs); err != nil {
			return err
		}
		total += len(msgs)
	}

	if err := e.recon.UpdateCheckpoint(checkpointLastFullSync, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to record sync checkpoint", zap.Error(err))
	}

	e.logger.Info("bootstrap complete",
		zap.Int("conversations", len(convs)),
		zap.Int("messages", total),
		zap.Duration("took", time.Since(start)))

	e.bus.Publish(bus.Event{
		Kind:      bus.KindSyncCompleted,
		Timestamp: time.Now(),
		Payload: map[string]int{
			"conversations": len(convs),
			"messages":      total,
		},
	})
	return nil
}

// Resync is Bootstrap for reconnects; snapshot writes being idempotent, it
// only fills in whatever the cache missed while the feed was down.
func (e *Engine) Resync(ctx context.Context) error {
	return e.Bootstrap(ctx)
}

// ingestHistoryBatch upserts a conversation's history in one transaction.
func (e *Engine) ingestHistoryBatch(msgs []*store.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, content, attachment_type, attachment_url, attachment_name, attachment_size, is_read, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				content = excluded.content,
				is_read = excluded.is_read,
				status = excluded.status,
				timestamp = excluded.timestamp`,
			m.ConversationID, m.MsgID, m.SenderID, m.Content,
			m.AttachmentType, m.AttachmentURL, m.AttachmentName, m.AttachmentSize,
			m.IsRead, m.Status, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	last := msgs[len(msgs)-1]
	if err := e.db.TouchConversation(last.ConversationID, last.Timestamp, store.Preview(last)); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
