// Package ctl is the parleyctl side of the control API: an HTTP client over
// the daemon's unix socket with typed methods for every endpoint.
package ctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Client talks to a profile daemon.
type Client struct {
	http *http.Client
}

// New returns a client bound to the daemon's unix socket.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Status mirrors GET /v1/status.
type Status struct {
	Profile       string `json:"profile"`
	State         string `json:"state"`
	UserID        string `json:"user_id"`
	Authenticated bool   `json:"authenticated"`
}

// Conversation mirrors the conversation shape of the control API.
type Conversation struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Avatar             string `json:"avatar,omitempty"`
	Label              string `json:"label,omitempty"`
	IsGroup            bool   `json:"is_group"`
	CreatedAt          int64  `json:"created_at"`
	LastMessageAt      int64  `json:"last_message_at,omitempty"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
}

// ConversationDetail is a conversation with its participants.
type ConversationDetail struct {
	Conversation
	Participants []User `json:"participants"`
}

// Attachment mirrors the attachment shape of the control API.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message mirrors the message shape of the control API.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	IsRead         bool        `json:"is_read"`
	Status         string      `json:"status"`
	Timestamp      int64       `json:"timestamp"`
	Provisional    bool        `json:"provisional,omitempty"`
}

// Bucket is one date group of a transcript.
type Bucket struct {
	Key      string    `json:"key"`
	Messages []Message `json:"messages"`
}

// User mirrors the user shape of the control API.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Status string `json:"status,omitempty"`
}

// SearchResult is one search hit with its highlighted snippet.
type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}

// Event is one entry of the daemon event stream.
type Event struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations returns the ranked conversation list.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Conversation returns one conversation with participants.
func (c *Client) Conversation(ctx context.Context, id string) (*ConversationDetail, error) {
	var out ConversationDetail
	if err := c.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages returns a conversation transcript grouped into date buckets.
func (c *Client) Messages(ctx context.Context, id string, limit int) ([]Bucket, error) {
	path := "/v1/conversations/" + url.PathEscape(id) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Bucket
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send queues a message and returns the provisional identifier.
func (c *Client) Send(ctx context.Context, id, content, attachmentPath string) (string, error) {
	var out struct {
		ClientMsgID string `json:"client_msg_id"`
	}
	body := map[string]string{
		"content":         content,
		"attachment_path": attachmentPath,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(id)+"/messages", body, &out); err != nil {
		return "", err
	}
	return out.ClientMsgID, nil
}

// CreateConversation creates a conversation with the given participants.
func (c *Client) CreateConversation(ctx context.Context, name string, participantIDs []string) (*Conversation, error) {
	body := map[string]any{
		"name":            name,
		"participant_ids": participantIDs,
	}
	var out Conversation
	if err := c.do(ctx, http.MethodPost, "/v1/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DirectConversation returns the two-party conversation with a user,
// creating it when needed.
func (c *Client) DirectConversation(ctx context.Context, userID string) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, http.MethodPost, "/v1/conversations/direct", map[string]string{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetLabel sets or clears a conversation label.
func (c *Client) SetLabel(ctx context.Context, id, label string) error {
	return c.do(ctx, http.MethodPut, "/v1/conversations/"+url.PathEscape(id)+"/label", map[string]string{"label": label}, nil)
}

// AddParticipants adds users to a conversation.
func (c *Client) AddParticipants(ctx context.Context, id string, userIDs []string) error {
	return c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(id)+"/participants", map[string]any{"user_ids": userIDs}, nil)
}

// RemoveParticipant removes one user from a conversation.
func (c *Client) RemoveParticipant(ctx context.Context, id, userID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/conversations/"+url.PathEscape(id)+"/participants/"+url.PathEscape(userID), nil, nil)
}

// Users returns the cached user directory.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, "/v1/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search runs a full-text search over cached messages.
func (c *Client) Search(ctx context.Context, query, conversationID string, limit int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	if conversationID != "" {
		q.Set("conversation_id", conversationID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []SearchResult
	if err := c.do(ctx, http.MethodGet, "/v1/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch streams daemon events until the context is cancelled. The returned
// channel closes when the stream ends.
func (c *Client) Watch(ctx context.Context) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/v1/events", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
				continue
			}
			if evt.Kind == "" {
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
