// Package send drains the outbox. Each queued entry uploads its attachment
// first, then becomes a provisional cache row; the backend insert either
// replaces the provisional row with the authoritative one or removes it and
// marks the entry failed.
package send

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/attach"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/store"
)

// Gateway is the slice of the backend client the pipeline needs.
type Gateway interface {
	UserID() string
	SendMessage(ctx context.Context, m *store.Message) (*store.Message, error)
	UploadAttachment(ctx context.Context, filePath string) (*attach.Upload, error)
}

// Pipeline polls the outbox and pushes pending entries to the backend.
type Pipeline struct {
	db     *store.DB
	gw     Gateway
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewPipeline creates an outbox pipeline.
func NewPipeline(db *store.DB, gw Gateway, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:     db,
		gw:     gw,
		bus:    b,
		logger: logger,
	}
}

// Start begins polling the outbox for pending entries.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop stops the pipeline loop.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pipeline) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending drains every queued outbox entry once.
func (p *Pipeline) ProcessPending(ctx context.Context) {
	pending, err := p.db.PendingOutbox()
	if err != nil {
		p.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := p.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			p.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}
		p.sendEntry(ctx, entry)
	}
}

func (p *Pipeline) sendEntry(ctx context.Context, entry store.OutboxEntry) {
	outbound := &store.Message{
		ConversationID: entry.ConversationID,
		SenderID:       p.gw.UserID(),
		Content:        entry.Body,
	}

	// The upload runs before any cache write. An entry with an attachment
	// that never made it to storage must not surface as a message, even a
	// provisional one.
	if entry.AttachmentPath != "" {
		up, err := p.gw.UploadAttachment(ctx, entry.AttachmentPath)
		if err != nil {
			p.fail(entry, err)
			return
		}
		outbound.AttachmentType = up.Type
		outbound.AttachmentURL = up.URL
		outbound.AttachmentName = up.Name
		outbound.AttachmentSize = up.Size
	}

	// Provisional insert: the message appears in listings immediately,
	// ordered by local wall clock until the backend assigns the real
	// timestamp.
	provisional := &store.Message{
		ConversationID: entry.ConversationID,
		MsgID:          entry.ClientMsgID,
		SenderID:       p.gw.UserID(),
		Content:        entry.Body,
		AttachmentType: outbound.AttachmentType,
		AttachmentURL:  outbound.AttachmentURL,
		AttachmentName: outbound.AttachmentName,
		AttachmentSize: outbound.AttachmentSize,
		Status:         "sending",
		Timestamp:      time.Now().UnixMilli(),
	}
	_ = p.db.UpsertMessage(provisional)
	p.publishUpserted(entry.ConversationID, entry.ClientMsgID)

	authoritative, err := p.gw.SendMessage(ctx, outbound)
	if err != nil {
		p.fail(entry, err)
		return
	}

	// Swap the provisional row for the server one in a single transaction
	// so no listing ever sees both.
	if err := p.db.ReplaceMessage(entry.ConversationID, entry.ClientMsgID, authoritative); err != nil {
		p.logger.Error("failed to replace provisional message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if err := p.db.MarkOutboxSent(entry.ClientMsgID, authoritative.MsgID); err != nil {
		p.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if err := p.db.TouchConversation(entry.ConversationID, authoritative.Timestamp, store.Preview(authoritative)); err != nil {
		p.logger.Error("failed to touch conversation", zap.Error(err), zap.String("conversation_id", entry.ConversationID))
	}

	p.logger.Info("message sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("server_msg_id", authoritative.MsgID))
	p.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSendAck,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": entry.ConversationID,
			"client_msg_id":   entry.ClientMsgID,
			"server_msg_id":   authoritative.MsgID,
		},
	})
	p.publishUpserted(entry.ConversationID, authoritative.MsgID)
}

// fail removes the provisional row and records the error. A failed send
// leaves no message behind, only the outbox entry with its error.
func (p *Pipeline) fail(entry store.OutboxEntry, cause error) {
	p.logger.Error("failed to send message", zap.Error(cause), zap.String("client_msg_id", entry.ClientMsgID))
	_ = p.db.DeleteMessage(entry.ConversationID, entry.ClientMsgID)
	_ = p.db.MarkOutboxFailed(entry.ClientMsgID, cause.Error())
	p.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSendFailed,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": entry.ConversationID,
			"client_msg_id":   entry.ClientMsgID,
			"error":           cause.Error(),
		},
	})
	p.publishUpserted(entry.ConversationID, entry.ClientMsgID)
}

func (p *Pipeline) publishUpserted(conversationID, msgID string) {
	p.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": conversationID,
			"msg_id":          msgID,
		},
	})
}
