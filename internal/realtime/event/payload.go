package event

import (
	"encoding/json"

	"github.com/wefthq/weft/internal/storage"
)

// SessionCreated carries the full record of a newly created session.
type SessionCreated struct {
	Session storage.Session `json:"session"`
}

func (p *SessionCreated) Kind() Kind        { return KindSessionCreated }
func (p *SessionCreated) SessionID() string { return p.Session.ID }

// SessionUpdated carries the session record after a metadata change.
type SessionUpdated struct {
	Session storage.Session `json:"session"`
}

func (p *SessionUpdated) Kind() Kind        { return KindSessionUpdated }
func (p *SessionUpdated) SessionID() string { return p.Session.ID }

type SessionDeleted struct {
	Session string `json:"sessionId"`
}

func (p *SessionDeleted) Kind() Kind        { return KindSessionDeleted }
func (p *SessionDeleted) SessionID() string { return p.Session }

type MessageCreated struct {
	Session string          `json:"sessionId"`
	Message storage.Message `json:"message"`
}

func (p *MessageCreated) Kind() Kind        { return KindMessageCreated }
func (p *MessageCreated) SessionID() string { return p.Session }

// MessageTextDelta is one streamed chunk of assistant text. Deltas for a
// part arrive in order and are appended client-side.
type MessageTextDelta struct {
	Session   string `json:"sessionId"`
	MessageID string `json:"messageId"`
	PartID    string `json:"partId"`
	Delta     string `json:"delta"`
}

func (p *MessageTextDelta) Kind() Kind        { return KindMessageTextDelta }
func (p *MessageTextDelta) SessionID() string { return p.Session }

type MessageToolCall struct {
	Session   string          `json:"sessionId"`
	MessageID string          `json:"messageId"`
	CallID    string          `json:"callId"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
}

func (p *MessageToolCall) Kind() Kind        { return KindMessageToolCall }
func (p *MessageToolCall) SessionID() string { return p.Session }

type MessageToolResult struct {
	Session   string          `json:"sessionId"`
	MessageID string          `json:"messageId"`
	CallID    string          `json:"callId"`
	Output    json.RawMessage `json:"output,omitempty"`
}

func (p *MessageToolResult) Kind() Kind        { return KindMessageToolResult }
func (p *MessageToolResult) SessionID() string { return p.Session }

type MessageComplete struct {
	Session   string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

func (p *MessageComplete) Kind() Kind        { return KindMessageComplete }
func (p *MessageComplete) SessionID() string { return p.Session }

type MessageError struct {
	Session   string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

func (p *MessageError) Kind() Kind        { return KindMessageError }
func (p *MessageError) SessionID() string { return p.Session }

// SessionSync is the catch-up snapshot written directly to one connection.
// It is declared in the union so the codec can carry it, but the bridge
// never broadcasts it.
type SessionSync struct {
	Session       storage.Session `json:"session"`
	Messages      []SyncMessage   `json:"messages"`
	LastMessageID string          `json:"lastMessageId,omitempty"`
}

func (p *SessionSync) Kind() Kind        { return KindSessionSync }
func (p *SessionSync) SessionID() string { return p.Session.ID }

// SyncMessage pairs a message with its ordered parts.
type SyncMessage struct {
	storage.Message
	Parts []*storage.Part `json:"parts"`
}

type ApprovalRequested struct {
	Session string          `json:"sessionId"`
	CallID  string          `json:"callId"`
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input,omitempty"`
}

func (p *ApprovalRequested) Kind() Kind        { return KindApprovalRequested }
func (p *ApprovalRequested) SessionID() string { return p.Session }

type ApprovalResolved struct {
	Session  string `json:"sessionId"`
	CallID   string `json:"callId"`
	Status   string `json:"status"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func (p *ApprovalResolved) Kind() Kind        { return KindApprovalResolved }
func (p *ApprovalResolved) SessionID() string { return p.Session }
