package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/backend"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/ranking"
	"github.com/parley-chat/parley/internal/status"
	"github.com/parley-chat/parley/internal/store"
)

func TestServerServesOverUnixSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gw, err := backend.New(config.Backend{
		URL:    "http://127.0.0.1:1",
		APIKey: "test-key",
		UserID: "user-me",
	}, time.Second, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	handler := api.NewHandler("main", db, gw, b, ranking.NewTracker(b, zap.NewNop()), status.NewMachine(b), zap.NewNop())

	srv, err := NewServer(Params{ProfileName: "main", SocketPath: socketPath}, zap.NewNop(), handler)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		if err := srv.Start(); err != nil {
			t.Errorf("server error: %v", err)
		}
	}()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 2 * time.Second,
	}

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = client.Get("http://unix/v1/status")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["profile"] != "main" || body["state"] != string(status.Booting) {
		t.Errorf("body = %v", body)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("socket perm = %v, want 0600", info.Mode().Perm())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Stop(ctx)

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file not removed on stop")
	}
}

func TestDriveStateReseedsRankingAfterSync(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, c := range []struct {
		id string
		at int64
	}{
		{"conv-active", 9000},
		{"conv-stale", 2000},
	} {
		if err := db.UpsertConversation(&store.Conversation{ID: c.id, CreatedAt: 1000}); err != nil {
			t.Fatal(err)
		}
		if err := db.TouchConversation(c.id, c.at, "last"); err != nil {
			t.Fatal(err)
		}
	}

	b := bus.New()
	machine := status.NewMachine(b)
	for _, s := range []status.State{status.Connecting, status.Syncing} {
		if err := machine.Transition(s); err != nil {
			t.Fatal(err)
		}
	}

	// Stale order, as left behind by per-conversation touches during a
	// snapshot walked most-active-first.
	tracker := ranking.NewTracker(b, zap.NewNop())
	tracker.Touch("conv-active")
	tracker.Touch("conv-stale")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driveState(ctx, b, machine, db, tracker, zap.NewNop())

	// Republish until observed: the event is dropped if it races the
	// subscription inside driveState, and re-seeding is idempotent.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.Publish(bus.Event{Kind: bus.KindSyncCompleted, Timestamp: time.Now()})
		time.Sleep(10 * time.Millisecond)
		ids := tracker.IDs()
		if len(ids) == 2 && ids[0] == "conv-active" && ids[1] == "conv-stale" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ranking after sync = %v, want [conv-active conv-stale]", ids)
		}
	}

	if machine.Current() != status.Ready {
		t.Errorf("state = %s, want %s", machine.Current(), status.Ready)
	}
}

func TestServerRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	// A leftover socket from a crashed daemon.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Close()
	if _, err := os.Stat(socketPath); err != nil {
		// Close may already unlink on some platforms; recreate a plain file.
		if err := os.WriteFile(socketPath, nil, 0600); err != nil {
			t.Fatal(err)
		}
	}

	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gw, err := backend.New(config.Backend{URL: "http://127.0.0.1:1", APIKey: "k", UserID: "user-me"}, time.Second, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	handler := api.NewHandler("main", db, gw, b, ranking.NewTracker(b, zap.NewNop()), status.NewMachine(b), zap.NewNop())

	srv, err := NewServer(Params{ProfileName: "main", SocketPath: socketPath}, zap.NewNop(), handler)
	if err != nil {
		t.Fatalf("stale socket not cleaned: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Stop(ctx)
}
