package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestUpsertConversationKeepsNewestLastMessage(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", Name: "Ops", LastMessageAt: 2000, LastMessagePreview: "newer"}); err != nil {
		t.Fatal(err)
	}
	// A stale snapshot must not move the pointer backwards.
	if err := db.UpsertConversation(&Conversation{ID: "c1", Name: "Ops", LastMessageAt: 1000, LastMessagePreview: "older"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageAt != 2000 {
		t.Errorf("last_message_at = %d, want 2000", c.LastMessageAt)
	}
	if c.LastMessagePreview != "newer" {
		t.Errorf("preview = %q, want newer", c.LastMessagePreview)
	}
}

func TestPreview(t *testing.T) {
	long := ""
	for len(long) < 150 {
		long += "0123456789"
	}
	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{"content", Message{Content: "hello"}, "hello"},
		{"attachment fallback", Message{AttachmentName: "photo.png"}, "photo.png"},
		{"content wins over attachment", Message{Content: "look", AttachmentName: "photo.png"}, "look"},
		{"truncated", Message{Content: long}, long[:100]},
		{"empty", Message{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Preview(&tc.msg); got != tc.want {
				t.Errorf("Preview() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSetConversationGroup(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConversationGroup("c1", true); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsGroup {
		t.Error("group flag not set")
	}
	if err := db.SetConversationGroup("c1", false); err != nil {
		t.Fatal(err)
	}
	c, err = db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.IsGroup {
		t.Error("group flag not cleared")
	}
}

func TestTouchConversationIgnoresOlderTimestamp(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", LastMessageAt: 5000, LastMessagePreview: "latest"}); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchConversation("c1", 3000, "out of order"); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageAt != 5000 || c.LastMessagePreview != "latest" {
		t.Errorf("conversation moved backwards: at=%d preview=%q", c.LastMessageAt, c.LastMessagePreview)
	}
}

func TestListConversationsSeedOrder(t *testing.T) {
	db := testDB(t)

	// Active conversations by last message desc, empty ones last by creation desc.
	fixtures := []Conversation{
		{ID: "quiet-old", CreatedAt: 100},
		{ID: "quiet-new", CreatedAt: 200},
		{ID: "active-old", CreatedAt: 50, LastMessageAt: 1000},
		{ID: "active-new", CreatedAt: 60, LastMessageAt: 2000},
	}
	for i := range fixtures {
		if err := db.UpsertConversation(&fixtures[i]); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, c := range convs {
		got = append(got, c.ID)
	}
	want := []string{"active-new", "active-old", "quiet-new", "quiet-old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "c1", MsgID: "m1", Content: "v1", Status: "received", Timestamp: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Content = "v2"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
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

func TestReplaceMessageSwapsProvisionalForAuthoritative(t *testing.T) {
	db := testDB(t)

	temp := &Message{ConversationID: "c1", MsgID: "temp-abc", Content: "hello", Status: "sending", Timestamp: 1000}
	if err := db.UpsertMessage(temp); err != nil {
		t.Fatal(err)
	}

	srv := &Message{ConversationID: "c1", MsgID: "srv-1", Content: "hello", Status: "sent", Timestamp: 1005}
	if err := db.ReplaceMessage("c1", "temp-abc", srv); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (replace, not append)", len(msgs))
	}
	if msgs[0].MsgID != "srv-1" {
		t.Errorf("msg_id = %q, want srv-1", msgs[0].MsgID)
	}
	if msgs[0].Provisional() {
		t.Error("replaced message still reports provisional")
	}
}

func TestParticipants(t *testing.T) {
	db := testDB(t)

	if err := db.ReplaceParticipants("c1", []string{"u1", "u2", "u3"}); err != nil {
		t.Fatal(err)
	}

	ok, err := db.IsParticipant("c1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("u2 should be a participant")
	}

	if err := db.RemoveParticipant("c1", "u2"); err != nil {
		t.Fatal(err)
	}
	ids, err := db.ListParticipantIDs("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("got %d participants, want 2 after removal", len(ids))
	}

	if err := db.AddParticipants("c1", []string{"u2", "u2"}); err != nil {
		t.Fatal(err)
	}
	ids, err = db.ListParticipantIDs("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Errorf("got %d participants, want 3 (duplicate add ignored)", len(ids))
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("temp-1", "c1", "hello", ""); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "temp-1" {
		t.Fatalf("pending = %+v, want one entry temp-1", pending)
	}

	if err := db.MarkOutboxSending("temp-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("temp-1", "srv-9"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after sent", len(pending))
	}

	var serverID string
	if err := db.QueryRow(`SELECT server_msg_id FROM outbox WHERE client_msg_id = 'temp-1'`).Scan(&serverID); err != nil {
		t.Fatal(err)
	}
	if serverID != "srv-9" {
		t.Errorf("server_msg_id = %q, want srv-9 (provisional mapping kept)", serverID)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	msgs := []Message{
		{ConversationID: "c1", MsgID: "m1", Content: "the invoice is ready", Timestamp: 1000},
		{ConversationID: "c1", MsgID: "m2", Content: "see you tomorrow", Timestamp: 2000},
		{ConversationID: "c2", MsgID: "m3", Content: "invoice overdue", Timestamp: 3000},
	}
	for i := range msgs {
		if err := db.UpsertMessage(&msgs[i]); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("invoice", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	results, err = db.SearchMessages("invoice", "c2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.MsgID != "m3" {
		t.Errorf("scoped search = %+v, want only m3", results)
	}
}
