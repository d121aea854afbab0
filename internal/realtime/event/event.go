package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the event union. Every kind listed here has a payload
// type registered in the decode table; the bridge's route table is checked
// against the same set at startup.
type Kind string

const (
	KindSessionCreated    Kind = "session.created"
	KindSessionUpdated    Kind = "session.updated"
	KindSessionDeleted    Kind = "session.deleted"
	KindMessageCreated    Kind = "message.created"
	KindMessageTextDelta  Kind = "message.text.delta"
	KindMessageToolCall   Kind = "message.tool.call"
	KindMessageToolResult Kind = "message.tool.result"
	KindMessageComplete   Kind = "message.complete"
	KindMessageError      Kind = "message.error"
	KindSessionSync       Kind = "session.sync"
	KindApprovalRequested Kind = "approval.requested"
	KindApprovalResolved  Kind = "approval.resolved"
)

// Payload is the typed body of an event. SessionID returns the session the
// event belongs to, or "" for events that are not tied to one.
type Payload interface {
	Kind() Kind
	SessionID() string
}

// Event is an immutable fire-and-forget notification. There is no replay
// log; consumers that miss events resynchronize through the catch-up
// service instead.
type Event struct {
	ID         string
	Kind       Kind
	OccurredAt time.Time
	Payload    Payload
}

// New stamps a payload with a fresh ID and the current time.
func New(p Payload) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Kind:       p.Kind(),
		OccurredAt: time.Now().UTC(),
		Payload:    p,
	}
}
