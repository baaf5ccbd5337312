package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by namespace
// prefix, e.g. "conn." receives every connection event.
const (
	KindConnStatus   = "conn.status"
	KindStoreUpdated = "store.updated"
	KindClientStatus = "client.status_changed"
	KindSendFailed   = "message.send_failed"
	KindNotice       = "client.notice"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
