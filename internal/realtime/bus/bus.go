package bus

import (
	"context"
	"errors"

	"github.com/wefthq/weft/internal/realtime/event"
)

// ErrClosed is returned by Publish after the bus has been closed.
var ErrClosed = errors.New("bus closed")

// Handler consumes one event published to a scope. Handlers run on the
// bus's dispatch goroutine; long work belongs downstream of a buffer.
type Handler func(scope string, evt *event.Event)

// Bus is tenant-scoped pub/sub for realtime events. The scope is the
// project the event belongs to. Delivery is fire-and-forget with no
// replay: subscribers that attach after a publish never see it, and
// consumers that fall behind resynchronize through the catch-up service.
// Events from one producer arrive in publish order.
type Bus interface {
	Publish(ctx context.Context, scope string, evt *event.Event) error

	// Subscribe attaches h to one scope and returns its detach func.
	Subscribe(scope string, h Handler) (unsubscribe func())

	// SubscribeAll attaches h to every scope. The bridge uses this and
	// filters inside the handler.
	SubscribeAll(h Handler) (unsubscribe func())

	// ClearAll drops every subscription.
	ClearAll()

	Close() error
}
