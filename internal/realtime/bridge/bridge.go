package bridge

import (
	"fmt"
	"sync"

	"github.com/wefthq/weft/internal/realtime/bus"
	"github.com/wefthq/weft/internal/realtime/conn"
	"github.com/wefthq/weft/internal/realtime/event"
	"github.com/wefthq/weft/internal/realtime/room"
	"github.com/wefthq/weft/pkg/metrics"

	"github.com/ifuryst/lol"
	"go.uber.org/zap"
)

// routeFunc handles one event kind seen on the bus.
type routeFunc func(scope string, evt *event.Event)

// Bridge moves bus events into client connections: resolve target rooms,
// collect members, filter to the event's project, write one encoded frame
// per open connection. Dispatch goes through a route table keyed by event
// kind; New refuses to build a bridge whose table does not cover the whole
// union, so an event kind can never be added without deciding its route.
type Bridge struct {
	logger   *zap.Logger
	bus      bus.Bus
	rooms    *room.Index
	registry *conn.Registry
	metrics  *metrics.Metrics
	routes   map[event.Kind]routeFunc

	mu    sync.Mutex
	unsub func()
}

func New(logger *zap.Logger, b bus.Bus, rooms *room.Index, registry *conn.Registry, m *metrics.Metrics) (*Bridge, error) {
	br := &Bridge{
		logger:   logger.Named("bridge"),
		bus:      b,
		rooms:    rooms,
		registry: registry,
		metrics:  m,
	}
	br.routes = map[event.Kind]routeFunc{
		event.KindSessionCreated:    br.broadcast,
		event.KindSessionUpdated:    br.broadcast,
		event.KindSessionDeleted:    br.broadcast,
		event.KindMessageCreated:    br.broadcast,
		event.KindMessageTextDelta:  br.broadcast,
		event.KindMessageToolCall:   br.broadcast,
		event.KindMessageToolResult: br.broadcast,
		event.KindMessageComplete:   br.broadcast,
		event.KindMessageError:      br.broadcast,
		event.KindApprovalRequested: br.broadcast,
		event.KindApprovalResolved:  br.broadcast,

		// catch-up snapshots go straight to one connection; seen on the
		// bus they are dropped, not fanned out
		event.KindSessionSync: br.drop,
	}
	if err := validateRoutes(br.routes); err != nil {
		return nil, err
	}
	return br, nil
}

// validateRoutes checks the route table against the event union in both
// directions.
func validateRoutes(routes map[event.Kind]routeFunc) error {
	for _, k := range event.Kinds() {
		if _, ok := routes[k]; !ok {
			return fmt.Errorf("bridge route table missing event kind %q", k)
		}
	}
	for k := range routes {
		if !event.Known(k) {
			return fmt.Errorf("bridge route table has unknown event kind %q", k)
		}
	}
	return nil
}

// Start attaches the bridge to the bus. Calling it again while attached
// is a no-op.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub != nil {
		return
	}
	b.unsub = b.bus.SubscribeAll(b.handle)
	b.logger.Info("bridge started")
}

// Stop detaches the bridge. Safe to call repeatedly or before Start.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub == nil {
		return
	}
	b.unsub()
	b.unsub = nil
	b.logger.Info("bridge stopped")
}

func (b *Bridge) handle(scope string, evt *event.Event) {
	route, ok := b.routes[evt.Kind]
	if !ok {
		// unreachable once New validated the table; kept for events that
		// arrive from a newer instance over the redis bus
		b.logger.Error("no route for event kind", zap.String("kind", string(evt.Kind)))
		b.metrics.EventDropped(string(evt.Kind), "unrouted")
		return
	}
	route(scope, evt)
}

func (b *Bridge) drop(scope string, evt *event.Event) {
	b.logger.Debug("dropping direct-delivery event seen on bus",
		zap.String("scope", scope),
		zap.String("kind", string(evt.Kind)))
	b.metrics.EventDropped(string(evt.Kind), "direct_only")
}

// broadcast fans evt out to the union of the project room and, when the
// payload names a session, that session's room. The frame is encoded once
// and the same bytes written to every target. Closed connections are
// skipped and write failures are logged and skipped; one bad socket never
// stops a pass.
func (b *Bridge) broadcast(scope string, evt *event.Event) {
	targets := b.rooms.Members(room.ProjectRoom(scope))
	if sid := evt.Payload.SessionID(); sid != "" {
		targets = append(targets, b.rooms.Members(room.SessionRoom(sid))...)
	}
	targets = lol.UniqSlice(targets)
	if len(targets) == 0 {
		return
	}

	frame, err := event.EncodeFrame(evt)
	if err != nil {
		b.logger.Error("failed to encode event frame",
			zap.String("kind", string(evt.Kind)),
			zap.Error(err))
		return
	}

	for _, id := range targets {
		c, ok := b.registry.Get(id)
		if !ok {
			continue
		}
		// session rooms are joinable across projects, so tenant isolation
		// is enforced here: the event only reaches its own project
		if c.ProjectID != scope {
			b.metrics.EventDropped(string(evt.Kind), "foreign_project")
			continue
		}
		if !c.IsOpen() {
			continue
		}
		if err := c.Send(frame); err != nil {
			b.logger.Warn("failed to write event to connection",
				zap.String("conn_id", id),
				zap.String("kind", string(evt.Kind)),
				zap.Error(err))
			b.metrics.EventDropped(string(evt.Kind), "write_failed")
			continue
		}
		b.metrics.EventDelivered(string(evt.Kind))
	}
}
