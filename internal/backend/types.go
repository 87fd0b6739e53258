package backend

import (
	"time"

	"github.com/parley-chat/parley/internal/store"
)

// Wire records as the hosted backend's REST and realtime surfaces emit
// them. Timestamps arrive as ISO-8601 strings and are normalized to unix ms
// at this boundary; a 0 timestamp downstream means the record never carried
// a parseable one.

type userRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Status string `json:"status"`
}

type conversationRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Label     string `json:"label"`
	CreatedAt string `json:"created_at"`
}

type messageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	IsRead         bool   `json:"is_read"`
	AttachmentType string `json:"attachment_type,omitempty"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentSize int64  `json:"attachment_size,omitempty"`
}

type participantRecord struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// Conversation is a fully assembled conversation as the gateway returns it:
// the record plus its participant set and cached last message. IsGroup is
// derived here, once, from the participant count; the stored flag some
// schema versions carry is ignored.
type Conversation struct {
	store.Conversation
	Participants []store.User
	LastMessage  *store.Message
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
}

// parseTimestamp normalizes a backend timestamp to unix ms. Returns 0 for
// missing or malformed values; callers degrade to fallback ordering instead
// of failing.
func parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

func (r *userRecord) toStore() store.User {
	return store.User{ID: r.ID, Name: r.Name, Avatar: r.Avatar, Status: r.Status}
}

// toStore converts a wire message. currentUserID determines the cached
// status: our own acknowledged messages are "sent", everything else
// "received".
func (r *messageRecord) toStore(currentUserID string) *store.Message {
	status := "received"
	if r.SenderID == currentUserID {
		status = "sent"
	}
	return &store.Message{
		ConversationID: r.ConversationID,
		MsgID:          r.ID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		AttachmentType: r.AttachmentType,
		AttachmentURL:  r.AttachmentURL,
		AttachmentName: r.AttachmentName,
		AttachmentSize: r.AttachmentSize,
		IsRead:         r.IsRead,
		Status:         status,
		Timestamp:      parseTimestamp(r.Timestamp),
	}
}

func (r *conversationRecord) toStore() store.Conversation {
	return store.Conversation{
		ID:        r.ID,
		Name:      r.Name,
		Avatar:    r.Avatar,
		Label:     r.Label,
		CreatedAt: parseTimestamp(r.CreatedAt),
	}
}
