package store

import "strings"

// ProvisionalIDPrefix marks client-generated message identifiers that have
// not been acknowledged by the backend yet. Server identifiers never carry it.
const ProvisionalIDPrefix = "temp-"

// IsProvisionalID reports whether a message identifier is client-generated.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalIDPrefix)
}

// previewMaxLen caps the cached last-message preview.
const previewMaxLen = 100

// Preview derives the conversation-list preview text for a message: its
// content, or the attachment name when the message is attachment-only,
// truncated to a fixed length.
func Preview(m *Message) string {
	text := m.Content
	if text == "" && m.AttachmentName != "" {
		text = m.AttachmentName
	}
	if len(text) > previewMaxLen {
		return text[:previewMaxLen]
	}
	return text
}

// Conversation represents a cached conversation. IsGroup is derived from the
// participant count: once at the gateway boundary when a conversation is
// assembled, and again whenever a participant mutation changes the count.
type Conversation struct {
	ID                 string
	Name               string
	Avatar             string
	Label              string
	IsGroup            bool
	CreatedAt          int64 // unix ms
	LastMessageAt      int64 // unix ms, 0 when the conversation has no messages
	LastMessagePreview string
}

// User represents a cached directory entry.
type User struct {
	ID     string
	Name   string
	Avatar string
	Status string
}

// Message represents a cached message. MsgID is the server identifier, or a
// provisional temp- identifier for an unacknowledged optimistic send.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	Content        string
	AttachmentType string
	AttachmentURL  string
	AttachmentName string
	AttachmentSize int64
	IsRead         bool
	Status         string // sending, sent, received, failed
	Timestamp      int64  // unix ms; 0 when no authoritative timestamp is known
}

// Provisional reports whether the message is an unconfirmed optimistic send.
func (m *Message) Provisional() bool {
	return IsProvisionalID(m.MsgID)
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	AttachmentPath string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
