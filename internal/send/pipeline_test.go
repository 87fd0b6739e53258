package send

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/attach"
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
	sendErr   error
	uploadErr error
	uploads   int
	sent      []*store.Message
	onSend    func(m *store.Message)
	onUpload  func()
	nextID    int
}

func (g *fakeGateway) UserID() string { return "user-me" }

func (g *fakeGateway) SendMessage(ctx context.Context, m *store.Message) (*store.Message, error) {
	if g.onSend != nil {
		g.onSend(m)
	}
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.sent = append(g.sent, m)
	g.nextID++
	out := *m
	out.MsgID = fmt.Sprintf("server-%d", g.nextID)
	out.Status = "sent"
	out.Timestamp = int64(10000 + g.nextID)
	return &out, nil
}

func (g *fakeGateway) UploadAttachment(ctx context.Context, filePath string) (*attach.Upload, error) {
	if g.onUpload != nil {
		g.onUpload()
	}
	g.uploads++
	if g.uploadErr != nil {
		return nil, g.uploadErr
	}
	return &attach.Upload{
		URL:  "https://backend.test/storage/v1/object/public/chat-attachments/attachments/x.png",
		Name: filepath.Base(filePath),
		Type: "image/png",
		Size: 42,
	}, nil
}

func queue(t *testing.T, db *store.DB, clientMsgID, convID, body, attachmentPath string) {
	t.Helper()
	if err := db.QueueOutbox(clientMsgID, convID, body, attachmentPath); err != nil {
		t.Fatal(err)
	}
}

func TestPipelineSendReplacesProvisionalRow(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	gw := &fakeGateway{}
	p := NewPipeline(db, gw, b, zap.NewNop())

	ch, unsub := b.Subscribe("message.", 20)
	defer unsub()

	queue(t, db, "temp-abc", "conv-1", "hello", "")
	p.ProcessPending(context.Background())

	msgs, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1 (provisional replaced, not duplicated)", len(msgs))
	}
	if msgs[0].MsgID != "server-1" || msgs[0].Status != "sent" {
		t.Errorf("row = %s/%s, want server-1/sent", msgs[0].MsgID, msgs[0].Status)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("%d entries still pending after send", len(pending))
	}

	conv, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil || conv.LastMessagePreview != "hello" {
		t.Errorf("conversation activity not updated: %+v", conv)
	}

	var kinds []string
	for {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
			if evt.Kind == bus.KindMessageUpserted && len(kinds) >= 3 {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout, events so far: %v", kinds)
		}
	}
}

func TestPipelineProvisionalVisibleDuringSend(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	gw.onSend = func(*store.Message) {
		msgs, err := db.ListMessages("conv-1", 0, 10)
		if err != nil {
			t.Error(err)
			return
		}
		if len(msgs) != 1 || msgs[0].MsgID != "temp-abc" || msgs[0].Status != "sending" {
			t.Errorf("mid-send cache = %+v, want one temp-abc/sending row", msgs)
		}
	}
	p := NewPipeline(db, gw, bus.New(), zap.NewNop())

	queue(t, db, "temp-abc", "conv-1", "hello", "")
	p.ProcessPending(context.Background())
}

func TestPipelineSendFailureRemovesProvisionalRow(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	gw := &fakeGateway{sendErr: errors.New("backend says no")}
	p := NewPipeline(db, gw, b, zap.NewNop())

	ch, unsub := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsub()

	queue(t, db, "temp-abc", "conv-1", "hello", "")
	p.ProcessPending(context.Background())

	msgs, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("failed send left %d rows in cache", len(msgs))
	}

	select {
	case evt := <-ch:
		payload := evt.Payload.(map[string]string)
		if payload["client_msg_id"] != "temp-abc" || payload["error"] == "" {
			t.Errorf("failure payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("failed entry still queued for retry: %v", pending)
	}
}

func TestPipelineAttachmentUploadPrecedesSend(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	gw.onUpload = func() {
		// Nothing is cached until the attachment is in storage.
		msgs, err := db.ListMessages("conv-1", 0, 10)
		if err != nil {
			t.Error(err)
			return
		}
		if len(msgs) != 0 {
			t.Errorf("cache rows exist before upload completed: %+v", msgs)
		}
	}
	gw.onSend = func(*store.Message) {
		msgs, err := db.ListMessages("conv-1", 0, 10)
		if err != nil {
			t.Error(err)
			return
		}
		if len(msgs) != 1 || msgs[0].AttachmentURL == "" || msgs[0].AttachmentType != "image/png" {
			t.Errorf("provisional row missing attachment descriptor: %+v", msgs)
		}
	}
	p := NewPipeline(db, gw, bus.New(), zap.NewNop())

	queue(t, db, "temp-abc", "conv-1", "check this out", "/tmp/photo.png")
	p.ProcessPending(context.Background())

	if gw.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", gw.uploads)
	}
	if len(gw.sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(gw.sent))
	}
	if gw.sent[0].AttachmentURL == "" || gw.sent[0].AttachmentType != "image/png" {
		t.Errorf("sent message missing attachment fields: %+v", gw.sent[0])
	}
}

func TestPipelineUploadFailureAbortsWholeSend(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	gw := &fakeGateway{uploadErr: errors.New("file size 20971520 exceeds the maximum of 10485760 bytes")}
	p := NewPipeline(db, gw, b, zap.NewNop())

	upsertCh, unsub := b.Subscribe(bus.KindMessageUpserted, 10)
	defer unsub()
	failCh, unsubFail := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsubFail()

	queue(t, db, "temp-abc", "conv-1", "with attachment", "/tmp/huge.mp4")
	p.ProcessPending(context.Background())

	if len(gw.sent) != 0 {
		t.Fatalf("message sent despite attachment failure: %+v", gw.sent)
	}
	msgs, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("aborted send left %d rows", len(msgs))
	}

	select {
	case <-failCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}
	// The failed upload never produced a provisional row, so by the time
	// send_failed fires only the removal notification may have been
	// published, never an upsert announcing a row before the failure.
	select {
	case evt := <-upsertCh:
		payload := evt.Payload.(map[string]string)
		if payload["msg_id"] != "temp-abc" {
			t.Errorf("unexpected upsert payload: %v", payload)
		}
	default:
	}
}
