package conn

import (
	"sync/atomic"
	"time"
)

// Sink writes frames to one client transport. Implementations must be safe
// for concurrent Send calls and must not block the caller on a slow client.
type Sink interface {
	Send(data []byte) error
	IsOpen() bool
	Close() error
}

// Conn is one live client connection plus the identity it authenticated
// with. The registry owns the instance; everything else holds it briefly
// during fan-out or direct delivery.
type Conn struct {
	ID          string
	UserID      string
	ProjectID   string
	ConnectedAt time.Time

	lastActive atomic.Int64
	sink       Sink
}

func New(id, userID, projectID string, sink Sink) *Conn {
	c := &Conn{
		ID:          id,
		UserID:      userID,
		ProjectID:   projectID,
		ConnectedAt: time.Now(),
		sink:        sink,
	}
	c.Touch()
	return c
}

func (c *Conn) Send(data []byte) error {
	return c.sink.Send(data)
}

func (c *Conn) IsOpen() bool {
	return c.sink.IsOpen()
}

func (c *Conn) Close() error {
	return c.sink.Close()
}

// Touch records activity on the connection.
func (c *Conn) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}
