package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// payloads maps every kind in the union to a constructor for its payload
// type. Adding a kind without registering it here makes Decode fail, and
// the bridge refuses to start until its route table covers it.
var payloads = map[Kind]func() Payload{
	KindSessionCreated:    func() Payload { return &SessionCreated{} },
	KindSessionUpdated:    func() Payload { return &SessionUpdated{} },
	KindSessionDeleted:    func() Payload { return &SessionDeleted{} },
	KindMessageCreated:    func() Payload { return &MessageCreated{} },
	KindMessageTextDelta:  func() Payload { return &MessageTextDelta{} },
	KindMessageToolCall:   func() Payload { return &MessageToolCall{} },
	KindMessageToolResult: func() Payload { return &MessageToolResult{} },
	KindMessageComplete:   func() Payload { return &MessageComplete{} },
	KindMessageError:      func() Payload { return &MessageError{} },
	KindSessionSync:       func() Payload { return &SessionSync{} },
	KindApprovalRequested: func() Payload { return &ApprovalRequested{} },
	KindApprovalResolved:  func() Payload { return &ApprovalResolved{} },
}

// Kinds returns every kind in the union in stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(payloads))
	for k := range payloads {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether k names a kind in the union.
func Known(k Kind) bool {
	_, ok := payloads[k]
	return ok
}

// Decode builds the typed payload for kind from raw JSON.
func Decode(kind Kind, raw []byte) (Payload, error) {
	ctor, ok := payloads[kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	p := ctor()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// Frame is the outbound wire shape shared by broadcasts and direct
// deliveries: {type, payload}.
type Frame struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeFrame serializes evt into outbound frame bytes. Fan-out calls this
// once per event and writes the same bytes to every target connection.
func EncodeFrame(evt *Event) ([]byte, error) {
	body, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", evt.Kind, err)
	}
	return json.Marshal(Frame{Type: evt.Kind, Payload: body})
}

// envelope is the bus transport encoding of an event.
type envelope struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Marshal encodes evt for bus transport.
func Marshal(evt *Event) ([]byte, error) {
	body, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", evt.Kind, err)
	}
	return json.Marshal(envelope{
		ID:         evt.ID,
		Kind:       evt.Kind,
		OccurredAt: evt.OccurredAt,
		Payload:    body,
	})
}

// Unmarshal decodes a bus-transported event, resolving the payload type
// through the union's decode table.
func Unmarshal(data []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	p, err := Decode(env.Kind, env.Payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:         env.ID,
		Kind:       env.Kind,
		OccurredAt: env.OccurredAt,
		Payload:    p,
	}, nil
}
