package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/backend"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeGateway struct {
	userID        string
	users         []store.User
	conversations []backend.Conversation
	messages      map[string][]*store.Message
	fetchedConvs  []string
}

func (g *fakeGateway) UserID() string { return g.userID }

func (g *fakeGateway) FetchUsers(ctx context.Context) ([]store.User, error) {
	return g.users, nil
}

func (g *fakeGateway) FetchConversations(ctx context.Context) ([]backend.Conversation, error) {
	return g.conversations, nil
}

func (g *fakeGateway) FetchConversation(ctx context.Context, id string) (*backend.Conversation, error) {
	g.fetchedConvs = append(g.fetchedConvs, id)
	for i := range g.conversations {
		if g.conversations[i].ID == id {
			return &g.conversations[i], nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) FetchMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return g.messages[conversationID], nil
}

func seedConversation(t *testing.T, db *store.DB, id string, participants ...string) {
	t.Helper()
	if err := db.UpsertConversation(&store.Conversation{ID: id, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceParticipants(id, participants); err != nil {
		t.Fatal(err)
	}
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	gw := &fakeGateway{userID: "user-me"}
	e := NewEngine(db, gw, b, zap.NewNop())

	seedConversation(t, db, "conv-1", "user-me", "user-b")

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	msg := &store.Message{
		ConversationID: "conv-1", MsgID: "m1", SenderID: "user-b",
		Content: "hello", Status: "received", Timestamp: 5000,
	}
	if err := e.IngestMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("got %d messages, want 1 with content=hello", len(msgs))
	}

	conv, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessageAt != 5000 || conv.LastMessagePreview != "hello" {
		t.Errorf("conversation not touched: at=%d preview=%q", conv.LastMessageAt, conv.LastMessagePreview)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageUpserted {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindMessageUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.upserted event")
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{userID: "user-me"}
	e := NewEngine(db, gw, bus.New(), zap.NewNop())

	seedConversation(t, db, "conv-1", "user-me", "user-b")

	msg := &store.Message{
		ConversationID: "conv-1", MsgID: "m1", SenderID: "user-b",
		Content: "v1", Timestamp: 5000,
	}
	if err := e.IngestMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	msg.Content = "v2"
	if err := e.IngestMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Content != "v2" {
		t.Errorf("content = %q, want v2 (updated)", msgs[0].Content)
	}
}

func TestEngineDropsMessageForCachedNonMemberConversation(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{userID: "user-me"}
	e := NewEngine(db, gw, bus.New(), zap.NewNop())

	seedConversation(t, db, "conv-theirs", "user-x", "user-y")

	msg := &store.Message{
		ConversationID: "conv-theirs", MsgID: "m1", SenderID: "user-x",
		Content: "secret", Timestamp: 5000,
	}
	if err := e.IngestMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-theirs", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("non-member message cached, got %d rows", len(msgs))
	}
	if len(gw.fetchedConvs) != 0 {
		t.Errorf("enrichment fetch for already-cached conversation: %v", gw.fetchedConvs)
	}
}

func TestEngineEnrichesUnknownConversation(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{
		userID: "user-me",
		conversations: []backend.Conversation{{
			Conversation: store.Conversation{ID: "conv-new", Name: "New"},
			Participants: []store.User{{ID: "user-me"}, {ID: "user-b"}},
		}},
	}
	e := NewEngine(db, gw, bus.New(), zap.NewNop())

	msg := &store.Message{
		ConversationID: "conv-new", MsgID: "m1", SenderID: "user-b",
		Content: "first contact", Timestamp: 5000,
	}
	if err := e.IngestMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	conv, err := db.GetConversation("conv-new")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil {
		t.Fatal("conversation not enriched into cache")
	}

	msgs, err := db.ListMessages("conv-new", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}

	ids, err := db.ListParticipantIDs("conv-new")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("got %d participants, want 2", len(ids))
	}
}

func TestEngineBootstrapDoesNotAnnounceConversations(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	gw := &fakeGateway{
		userID: "user-me",
		conversations: []backend.Conversation{
			{
				Conversation: store.Conversation{ID: "conv-active", CreatedAt: 1000},
				Participants: []store.User{{ID: "user-me"}, {ID: "user-b"}},
			},
			{
				Conversation: store.Conversation{ID: "conv-stale", CreatedAt: 1000},
				Participants: []store.User{{ID: "user-me"}, {ID: "user-c"}},
			},
		},
		messages: map[string][]*store.Message{
			"conv-active": {{ConversationID: "conv-active", MsgID: "m1", SenderID: "user-b", Content: "recent", Timestamp: 9000}},
			"conv-stale":  {{ConversationID: "conv-stale", MsgID: "m2", SenderID: "user-c", Content: "old", Timestamp: 2000}},
		},
	}
	e := NewEngine(db, gw, b, zap.NewNop())

	convCh, unsubConv := b.Subscribe("conversation.", 10)
	defer unsubConv()
	syncCh, unsubSync := b.Subscribe("sync.", 10)
	defer unsubSync()

	if err := e.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-syncCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sync.completed event")
	}

	// Snapshot ingestion walks conversations most-active-first; announcing
	// each one as fresh activity would reverse the ranking, so the snapshot
	// must stay silent on the conversation topic.
	select {
	case evt := <-convCh:
		t.Fatalf("snapshot ingestion published %q", evt.Kind)
	default:
	}

	// A live insert for an unknown conversation still announces it.
	gw.conversations = append(gw.conversations, backend.Conversation{
		Conversation: store.Conversation{ID: "conv-live", CreatedAt: 1000},
		Participants: []store.User{{ID: "user-me"}, {ID: "user-d"}},
	})
	msg := &store.Message{
		ConversationID: "conv-live", MsgID: "m3", SenderID: "user-d",
		Content: "hi", Timestamp: 9500,
	}
	if err := e.IngestMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-convCh:
		if evt.Kind != bus.KindConversationUpserted {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindConversationUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for conversation.upserted from live ingestion")
	}
}

func TestEngineBootstrap(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{
		userID: "user-me",
		users: []store.User{
			{ID: "user-me", Name: "Me"},
			{ID: "user-b", Name: "Bee"},
		},
		conversations: []backend.Conversation{{
			Conversation: store.Conversation{ID: "conv-1", Name: "Chat", CreatedAt: 1000},
			Participants: []store.User{{ID: "user-me"}, {ID: "user-b"}},
		}},
		messages: map[string][]*store.Message{
			"conv-1": {
				{ConversationID: "conv-1", MsgID: "m1", SenderID: "user-b", Content: "one", Timestamp: 1000},
				{ConversationID: "conv-1", MsgID: "m2", SenderID: "user-me", Content: "two", Timestamp: 2000},
			},
		},
	}
	e := NewEngine(db, gw, bus.New(), zap.NewNop())

	if err := e.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	conv, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessageAt != 2000 || conv.LastMessagePreview != "two" {
		t.Errorf("activity not derived from history: at=%d preview=%q", conv.LastMessageAt, conv.LastMessagePreview)
	}

	u, err := db.GetUser("user-b")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "Bee" {
		t.Errorf("user directory not synced: %+v", u)
	}

	cp, err := e.recon.GetCheckpoint(checkpointLastFullSync)
	if err != nil {
		t.Fatal(err)
	}
	if cp == "" {
		t.Error("full-sync checkpoint not recorded")
	}

	// Second run converges to the same rows.
	if err := e.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs, err = db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("bootstrap not idempotent, got %d messages", len(msgs))
	}
}
