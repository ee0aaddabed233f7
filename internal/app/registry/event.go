package registry

import (
	"time"

	"relayd/internal/app/user"
)

// EventType names a registry state change.
type EventType string

const (
	EventRegistered       EventType = "USER_REGISTERED"
	EventConnected        EventType = "USER_CONNECTED"
	EventDisconnected     EventType = "USER_DISCONNECTED"
	EventTransferStarted  EventType = "TRANSFER_STARTED"
	EventTransferFinished EventType = "TRANSFER_FINISHED"
)

// Event describes one change to a record, with the record's state after the change.
// Seq is assigned under the registry lock and orders events the way the changes happened.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	User      user.User `json:"user"`
	Timestamp int64     `json:"timestamp"`
}

// eventLocked must be called with r.mu held.
func (r *Registry) eventLocked(t EventType, rec *record) Event {
	r.seq++
	return Event{
		Seq:       r.seq,
		Type:      t,
		User:      rec.snapshot(),
		Timestamp: time.Now().UnixMilli(),
	}
}
