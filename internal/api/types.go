package api

import (
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/timeline"
)

// Wire shapes of the local control API. The cache types stay free of JSON
// concerns; this is the only place they grow tags.

type conversationDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Avatar             string `json:"avatar,omitempty"`
	Label              string `json:"label,omitempty"`
	IsGroup            bool   `json:"is_group"`
	CreatedAt          int64  `json:"created_at"`
	LastMessageAt      int64  `json:"last_message_at,omitempty"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
}

func toConversationDTO(c store.Conversation) conversationDTO {
	return conversationDTO{
		ID:                 c.ID,
		Name:               c.Name,
		Avatar:             c.Avatar,
		Label:              c.Label,
		IsGroup:            c.IsGroup,
		CreatedAt:          c.CreatedAt,
		LastMessageAt:      c.LastMessageAt,
		LastMessagePreview: c.LastMessagePreview,
	}
}

type attachmentDTO struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type messageDTO struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Content        string         `json:"content"`
	Attachment     *attachmentDTO `json:"attachment,omitempty"`
	IsRead         bool           `json:"is_read"`
	Status         string         `json:"status"`
	Timestamp      int64          `json:"timestamp"`
	Provisional    bool           `json:"provisional,omitempty"`
}

func toMessageDTO(m store.Message) messageDTO {
	dto := messageDTO{
		ID:             m.MsgID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		IsRead:         m.IsRead,
		Status:         m.Status,
		Timestamp:      m.Timestamp,
		Provisional:    m.Provisional(),
	}
	if m.AttachmentURL != "" {
		dto.Attachment = &attachmentDTO{
			Type: m.AttachmentType,
			URL:  m.AttachmentURL,
			Name: m.AttachmentName,
			Size: m.AttachmentSize,
		}
	}
	return dto
}

type bucketDTO struct {
	Key      string       `json:"key"`
	Messages []messageDTO `json:"messages"`
}

func toBucketDTOs(buckets []timeline.Bucket) []bucketDTO {
	out := make([]bucketDTO, 0, len(buckets))
	for _, b := range buckets {
		msgs := make([]messageDTO, 0, len(b.Messages))
		for _, m := range b.Messages {
			msgs = append(msgs, toMessageDTO(m))
		}
		out = append(out, bucketDTO{Key: b.Key, Messages: msgs})
	}
	return out
}

type userDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Status string `json:"status,omitempty"`
}

func toUserDTO(u store.User) userDTO {
	return userDTO{ID: u.ID, Name: u.Name, Avatar: u.Avatar, Status: u.Status}
}

type searchResultDTO struct {
	Message messageDTO `json:"message"`
	Snippet string     `json:"snippet"`
}

type statusResponse struct {
	Profile       string `json:"profile"`
	State         string `json:"state"`
	UserID        string `json:"user_id"`
	Authenticated bool   `json:"authenticated"`
}

type createConversationRequest struct {
	Name           string   `json:"name"`
	Avatar         string   `json:"avatar"`
	ParticipantIDs []string `json:"participant_ids"`
}

type directConversationRequest struct {
	UserID string `json:"user_id"`
}

type sendMessageRequest struct {
	Content        string `json:"content"`
	AttachmentPath string `json:"attachment_path"`
}

type sendMessageResponse struct {
	ClientMsgID string `json:"client_msg_id"`
}

type labelRequest struct {
	Label string `json:"label"`
}

type participantsRequest struct {
	UserIDs []string `json:"user_ids"`
}
