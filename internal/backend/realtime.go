package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/bus"
)

const (
	heartbeatInterval = 25 * time.Second
	reconnectMin      = time.Second
	reconnectMax      = 30 * time.Second
)

// phoenixFrame is the wire envelope of the realtime socket. Every frame,
// inbound or outbound, carries a topic, an event name and a payload.
type phoenixFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// changePayload is the payload of a postgres_changes style frame: the table
// it came from, the change type and the new row.
type changePayload struct {
	Type   string          `json:"type"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// Feed maintains the realtime subscription against the backend and turns
// row inserts into bus events. It reconnects on its own with capped backoff;
// consumers observe connectivity through feed.up and feed.down events.
type Feed struct {
	wsURL  string
	userID string
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex // guards conn writes
	conn   *websocket.Conn
	ref    int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed builds the realtime feed for the client's backend.
func NewFeed(c *Client, b *bus.Bus, logger *zap.Logger) (*Feed, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported backend scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", c.apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	return &Feed{
		wsURL:  u.String(),
		userID: c.userID,
		bus:    b,
		logger: logger.Named("feed"),
	}, nil
}

// Start runs the feed loop until Stop or context cancellation.
func (f *Feed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(ctx)
}

// Stop tears the feed down and waits for the loop to exit.
func (f *Feed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
	f.mu.Unlock()
	<-f.done
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	backoff := reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		err := f.connectAndListen(ctx)
		f.bus.Publish(bus.Event{Kind: bus.KindFeedDown, Timestamp: time.Now()})
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("realtime connection lost", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (f *Feed) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		_ = conn.Close()
	}()

	for _, topic := range []string{"realtime:public:messages", "realtime:public:conversations"} {
		if err := f.send(topic, "phx_join", json.RawMessage(`{}`)); err != nil {
			return fmt.Errorf("join %s: %w", topic, err)
		}
	}

	f.logger.Info("realtime connected")
	f.bus.Publish(bus.Event{Kind: bus.KindFeedUp, Timestamp: time.Now()})

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go f.heartbeat(hbCtx)

	for {
		var frame phoenixFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		f.dispatch(frame)
	}
}

func (f *Feed) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.send("phoenix", "heartbeat", json.RawMessage(`{}`)); err != nil {
				f.logger.Debug("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func (f *Feed) send(topic, event string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.ref++
	return f.conn.WriteJSON(phoenixFrame{
		Topic:   topic,
		Event:   event,
		Payload: payload,
		Ref:     strconv.Itoa(f.ref),
	})
}

func (f *Feed) dispatch(frame phoenixFrame) {
	switch frame.Event {
	case "phx_reply", "phx_close":
		return
	case "INSERT":
	default:
		// Updates and deletes are reconciled by the periodic sync pass, the
		// live feed only fans out inserts.
		return
	}

	switch frame.Topic {
	case "realtime:public:messages":
		var rec messageRecord
		if err := json.Unmarshal(framePayloadRecord(frame.Payload), &rec); err != nil {
			f.logger.Warn("bad message frame", zap.Error(err))
			return
		}
		f.bus.Publish(bus.Event{
			Kind:      bus.KindFeedMessageInserted,
			Timestamp: time.Now(),
			Payload:   rec.toStore(f.userID),
		})
	case "realtime:public:conversations":
		var rec conversationRecord
		if err := json.Unmarshal(framePayloadRecord(frame.Payload), &rec); err != nil {
			f.logger.Warn("bad conversation frame", zap.Error(err))
			return
		}
		f.bus.Publish(bus.Event{
			Kind:      bus.KindFeedConversationInserted,
			Timestamp: time.Now(),
			Payload:   rec.toStore(),
		})
	}
}

// framePayloadRecord extracts the new row from an insert payload, falling
// back to the raw payload for servers that send the record unwrapped.
func framePayloadRecord(payload json.RawMessage) json.RawMessage {
	var cp changePayload
	if err := json.Unmarshal(payload, &cp); err == nil && len(cp.Record) > 0 {
		return cp.Record
	}
	return payload
}
