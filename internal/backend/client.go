// Package backend is the typed wrapper around the hosted chat service:
// PostgREST-style tables, an object store for attachments and a realtime
// change feed. The daemon consumes this service, it never implements it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

// Client talks to the backend's REST surface. The current actor is explicit
// configuration, passed in at construction; nothing here reads globals.
type Client struct {
	baseURL string
	apiKey  string
	userID  string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a backend client.
func New(cfg config.Backend, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("backend url not configured")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("backend user id not configured")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		userID:  cfg.UserID,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// UserID returns the authenticated actor this client acts as.
func (c *Client) UserID() string {
	return c.userID
}

// Authenticated reports whether an API key is configured.
func (c *Client) Authenticated() bool {
	return c.apiKey != ""
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, prefer string, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s", method, path, readErrorSnippet(resp))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func eq(v string) string { return "eq." + v }

// readErrorSnippet summarizes a non-2xx response for error messages without
// dumping whole bodies into logs.
func readErrorSnippet(resp *http.Response) string {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// FetchConversations returns every conversation the current actor
// participates in, assembled with participants and last message, ordered by
// last activity descending (empty conversations last, newest first).
func (c *Client) FetchConversations(ctx context.Context) ([]Conversation, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")

	var recs []conversationRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/conversations", q, "", nil, &recs); err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}

	var convs []Conversation
	for _, rec := range recs {
		conv, err := c.assembleConversation(ctx, rec)
		if err != nil {
			return nil, err
		}
		if !memberOf(conv.Participants, c.userID) {
			continue
		}
		convs = append(convs, *conv)
	}

	sortByActivity(convs)
	return convs, nil
}

// FetchConversation returns one conversation with participants and last
// message, or nil if it does not exist.
func (c *Client) FetchConversation(ctx context.Context, id string) (*Conversation, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", eq(id))

	var recs []conversationRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/conversations", q, "", nil, &recs); err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return c.assembleConversation(ctx, recs[0])
}

func (c *Client) assembleConversation(ctx context.Context, rec conversationRecord) (*Conversation, error) {
	participants, err := c.fetchParticipants(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	last, err := c.fetchLastMessage(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	conv := Conversation{
		Conversation: rec.toStore(),
		Participants: participants,
		LastMessage:  last,
	}
	// Group classification is a pure function of participant-set
	// cardinality.
	conv.IsGroup = len(participants) > 2
	if last != nil {
		conv.LastMessageAt = last.Timestamp
		conv.LastMessagePreview = store.Preview(last)
	}
	return &conv, nil
}

func (c *Client) fetchParticipants(ctx context.Context, conversationID string) ([]store.User, error) {
	q := url.Values{}
	q.Set("select", "user_id")
	q.Set("conversation_id", eq(conversationID))

	var rows []participantRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/conversation_participants", q, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch participants: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}

	uq := url.Values{}
	uq.Set("select", "*")
	uq.Set("id", "in.("+strings.Join(ids, ",")+")")

	var userRecs []userRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/users", uq, "", nil, &userRecs); err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}

	users := make([]store.User, 0, len(userRecs))
	for _, u := range userRecs {
		users = append(users, u.toStore())
	}
	return users, nil
}

func (c *Client) fetchLastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("conversation_id", eq(conversationID))
	q.Set("order", "timestamp.desc")
	q.Set("limit", "1")

	var recs []messageRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/messages", q, "", nil, &recs); err != nil {
		return nil, fmt.Errorf("fetch last message: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0].toStore(c.userID), nil
}

// FetchMessages returns all messages for a conversation ordered by
// authoritative timestamp ascending.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("conversation_id", eq(conversationID))
	q.Set("order", "timestamp.asc")

	var recs []messageRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/messages", q, "", nil, &recs); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	msgs := make([]*store.Message, 0, len(recs))
	for _, r := range recs {
		msgs = append(msgs, r.toStore(c.userID))
	}
	return msgs, nil
}

// SendMessage inserts a single message row and returns the authoritative
// record with the server-assigned identifier and timestamp.
func (c *Client) SendMessage(ctx context.Context, m *store.Message) (*store.Message, error) {
	payload := map[string]any{
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"content":         m.Content,
		"is_read":         false,
	}
	if m.AttachmentType != "" {
		payload["attachment_type"] = m.AttachmentType
		payload["attachment_url"] = m.AttachmentURL
		payload["attachment_name"] = m.AttachmentName
		payload["attachment_size"] = m.AttachmentSize
	}

	var recs []messageRecord
	if err := c.do(ctx, http.MethodPost, "/rest/v1/messages", nil, "return=representation", []any{payload}, &recs); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("send message: backend returned no row")
	}
	return recs[0].toStore(c.userID), nil
}

// CreateConversation inserts a conversation row and returns it. Participants
// are added separately; see AddParticipants and the compensating
// DeleteConversation for the partial-failure path.
func (c *Client) CreateConversation(ctx context.Context, name, avatar string) (*store.Conversation, error) {
	payload := map[string]any{"name": name, "avatar": avatar}

	var recs []conversationRecord
	if err := c.do(ctx, http.MethodPost, "/rest/v1/conversations", nil, "return=representation", []any{payload}, &recs); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("create conversation: backend returned no row")
	}
	conv := recs[0].toStore()
	return &conv, nil
}

// DeleteConversation removes a conversation row. Used as the compensating
// action when participant setup fails halfway through a create.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", eq(id))
	if err := c.do(ctx, http.MethodDelete, "/rest/v1/conversations", q, "", nil, nil); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// AddParticipants adds users to a conversation.
func (c *Client) AddParticipants(ctx context.Context, conversationID string, userIDs []string) error {
	rows := make([]participantRecord, 0, len(userIDs))
	for _, uid := range userIDs {
		rows = append(rows, participantRecord{ConversationID: conversationID, UserID: uid})
	}
	if err := c.do(ctx, http.MethodPost, "/rest/v1/conversation_participants", nil, "", rows, nil); err != nil {
		return fmt.Errorf("add participants: %w", err)
	}
	return nil
}

// RemoveParticipant removes one user from a conversation.
func (c *Client) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	q := url.Values{}
	q.Set("conversation_id", eq(conversationID))
	q.Set("user_id", eq(userID))
	if err := c.do(ctx, http.MethodDelete, "/rest/v1/conversation_participants", q, "", nil, nil); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

// UpdateConversationLabel sets or clears the conversation label.
func (c *Client) UpdateConversationLabel(ctx context.Context, conversationID, lbl string) error {
	q := url.Values{}
	q.Set("id", eq(conversationID))
	body := map[string]any{"label": nil}
	if lbl != "" {
		body["label"] = lbl
	}
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/conversations", q, "", body, nil); err != nil {
		return fmt.Errorf("update label: %w", err)
	}
	return nil
}

// FetchUsers returns the full user directory.
func (c *Client) FetchUsers(ctx context.Context) ([]store.User, error) {
	q := url.Values{}
	q.Set("select", "*")

	var recs []userRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/users", q, "", nil, &recs); err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	users := make([]store.User, 0, len(recs))
	for _, r := range recs {
		users = append(users, r.toStore())
	}
	return users, nil
}

func memberOf(users []store.User, id string) bool {
	for _, u := range users {
		if u.ID == id {
			return true
		}
	}
	return false
}

// sortByActivity orders by last message timestamp descending; conversations
// with no messages go after all active ones, newest created first.
func sortByActivity(convs []Conversation) {
	slices.SortStableFunc(convs, func(a, b Conversation) int {
		if (a.LastMessage != nil) != (b.LastMessage != nil) {
			if a.LastMessage != nil {
				return -1
			}
			return 1
		}
		if a.LastMessage != nil && a.LastMessage.Timestamp != b.LastMessage.Timestamp {
			if a.LastMessage.Timestamp > b.LastMessage.Timestamp {
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
}
