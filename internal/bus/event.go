package bus

import "time"

// Event kinds published by the synchronizer and its collaborators.
const (
	KindTimelineChanged  = "timeline.changed"
	KindConnStateChanged = "conn.state_changed"
	KindConnNotice       = "conn.notice"
	KindSendAck          = "message.send_ack"
	KindSendFailed       = "message.send_failed"
	KindConfirmed        = "message.confirmed"
	KindSyncError        = "sync.error"
)

// Event is a single notification carried by the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
