package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by namespace
// prefix, e.g. "message." matches every message event.
const (
	KindFeedMessageInserted      = "feed.message_inserted"
	KindFeedConversationInserted = "feed.conversation_inserted"
	KindFeedUp                   = "feed.up"
	KindFeedDown                 = "feed.down"
	KindMessageUpserted          = "message.upserted"
	KindMessageSendAck           = "message.send_ack"
	KindMessageSendFailed        = "message.send_failed"
	KindConversationUpserted     = "conversation.upserted"
	KindSyncCompleted            = "sync.completed"
	KindStatusChanged            = "profile.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
