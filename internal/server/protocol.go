package server

import "encoding/json"

// Inbound client ops. Each arrives as {id, type, payload}; the id is
// echoed on the ack or error that answers it.
const (
	opSubscribe       = "subscribe"
	opUnsubscribe     = "unsubscribe"
	opPing            = "ping"
	opSessionSync     = "session.sync"
	opApprovalRespond = "approval.respond"
)

// Outbound frame types that are not event kinds.
const (
	frameConnected = "connected"
	frameAck       = "ack"
	frameError     = "error"
	framePong      = "pong"
)

type inboundFrame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundFrame struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type channelPayload struct {
	Channel string `json:"channel"`
}

type syncPayload struct {
	SessionID     string `json:"sessionId"`
	LastMessageID string `json:"lastMessageId,omitempty"`
}

type approvalRespondPayload struct {
	CallID   string `json:"callId"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	ProjectID    string `json:"projectId"`
	Version      string `json:"version"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
