package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/wefthq/weft/internal/common/config"
	"github.com/wefthq/weft/internal/realtime/bus"
	"github.com/wefthq/weft/internal/realtime/conn"
	"github.com/wefthq/weft/internal/realtime/event"
	"github.com/wefthq/weft/internal/realtime/room"
	"github.com/wefthq/weft/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   error
}

func (s *testSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *testSink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *testSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testSink) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

type fixture struct {
	bus      *bus.MemoryBus
	rooms    *room.Index
	registry *conn.Registry
	bridge   *Bridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:      bus.NewMemoryBus(zap.NewNop()),
		rooms:    room.NewIndex(),
		registry: conn.NewRegistry(zap.NewNop()),
	}
	br, err := New(zap.NewNop(), f.bus, f.rooms, f.registry, metrics.New(config.MetricsConfig{Namespace: "weft_test"}))
	require.NoError(t, err)
	f.bridge = br
	t.Cleanup(f.bridge.Stop)
	return f
}

// connect registers a connection and returns its sink.
func (f *fixture) connect(id, projectID string, joins ...string) *testSink {
	sink := &testSink{}
	f.registry.Add(conn.New(id, "u-"+id, projectID, sink))
	for _, r := range joins {
		f.rooms.Join(r, id)
	}
	return sink
}

func decodeFrame(t *testing.T, raw []byte) event.Frame {
	t.Helper()
	var frame event.Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestNew_ValidatesRouteTable(t *testing.T) {
	f := newFixture(t)
	require.NotNil(t, f.bridge)

	// a table missing one union member must be rejected
	broken := make(map[event.Kind]routeFunc)
	for k, fn := range f.bridge.routes {
		broken[k] = fn
	}
	delete(broken, event.KindMessageError)
	assert.Error(t, validateRoutes(broken))

	// as must a table routing a kind the union does not declare
	broken[event.KindMessageError] = f.bridge.broadcast
	broken["message.telepathy"] = f.bridge.broadcast
	assert.Error(t, validateRoutes(broken))
}

func TestBridge_FanOutToSessionAndProjectRooms(t *testing.T) {
	f := newFixture(t)
	f.bridge.Start()

	sessionWatcher := f.connect("c1", "p1", room.SessionRoom("s1"))
	projectWatcher := f.connect("c2", "p1", room.ProjectRoom("p1"))
	bothWatcher := f.connect("c3", "p1", room.SessionRoom("s1"), room.ProjectRoom("p1"))
	otherSession := f.connect("c4", "p1", room.SessionRoom("s2"))

	evt := event.New(&event.MessageTextDelta{Session: "s1", MessageID: "m1", PartID: "pt1", Delta: "hi"})
	require.NoError(t, f.bus.Publish(context.Background(), "p1", evt))

	for name, sink := range map[string]*testSink{
		"session watcher": sessionWatcher,
		"project watcher": projectWatcher,
		"both rooms":      bothWatcher,
	} {
		frames := sink.received()
		require.Len(t, frames, 1, "%s should get exactly one frame", name)
		frame := decodeFrame(t, frames[0])
		assert.Equal(t, event.KindMessageTextDelta, frame.Type)

		var body event.MessageTextDelta
		require.NoError(t, json.Unmarshal(frame.Payload, &body))
		assert.Equal(t, "hi", body.Delta)
	}
	assert.Empty(t, otherSession.received(), "different session, no delivery")
}

func TestBridge_SerializesOnce(t *testing.T) {
	f := newFixture(t)
	f.bridge.Start()

	a := f.connect("c1", "p1", room.ProjectRoom("p1"))
	b := f.connect("c2", "p1", room.ProjectRoom("p1"))

	require.NoError(t, f.bus.Publish(context.Background(), "p1",
		event.New(&event.MessageComplete{Session: "s1", MessageID: "m1"})))

	aFrames, bFrames := a.received(), b.received()
	require.Len(t, aFrames, 1)
	require.Len(t, bFrames, 1)
	assert.Equal(t, aFrames[0], bFrames[0], "every target gets the same bytes")
}

func TestBridge_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	f.bridge.Start()

	// c2 belongs to p2 but managed to join p1's session room
	own := f.connect("c1", "p1", room.SessionRoom("s1"))
	foreign := f.connect("c2", "p2", room.SessionRoom("s1"))

	require.NoError(t, f.bus.Publish(context.Background(), "p1",
		event.New(&event.MessageTextDelta{Session: "s1", MessageID: "m1", PartID: "pt1", Delta: "secret"})))

	assert.Len(t, own.received(), 1)
	assert.Empty(t, foreign.received(), "events never cross project boundaries")
}

func TestBridge_SkipsClosedAndSurvivesWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.bridge.Start()

	healthy := f.connect("c1", "p1", room.ProjectRoom("p1"))
	closed := f.connect("c2", "p1", room.ProjectRoom("p1"))
	closed.closed = true
	failing := f.connect("c3", "p1", room.ProjectRoom("p1"))
	failing.fail = errors.New("write: broken pipe")

	require.NoError(t, f.bus.Publish(context.Background(), "p1",
		event.New(&event.MessageComplete{Session: "s1", MessageID: "m1"})))

	assert.Len(t, healthy.received(), 1, "failures elsewhere must not stop delivery")
	assert.Empty(t, closed.received())

	// removed connections are skipped the same way
	f.registry.Remove("c3")
	require.NoError(t, f.bus.Publish(context.Background(), "p1",
		event.New(&event.MessageComplete{Session: "s1", MessageID: "m2"})))
	assert.Len(t, healthy.received(), 2)
}

func TestBridge_SessionSyncIsNeverBroadcast(t *testing.T) {
	f := newFixture(t)
	f.bridge.Start()

	watcher := f.connect("c1", "p1", room.ProjectRoom("p1"), room.SessionRoom("s1"))

	require.NoError(t, f.bus.Publish(context.Background(), "p1",
		event.New(&event.SessionSync{LastMessageID: "m1"})))

	assert.Empty(t, watcher.received())
}

func TestBridge_StartStopIdempotent(t *testing.T) {
	f := newFixture(t)
	sink := f.connect("c1", "p1", room.ProjectRoom("p1"))

	f.bridge.Stop() // before Start, harmless

	f.bridge.Start()
	f.bridge.Start() // second Start must not double-subscribe
	require.NoError(t, f.bus.Publish(context.Background(), "p1",
		event.New(&event.MessageComplete{Session: "s1", MessageID: "m1"})))
	assert.Len(t, sink.received(), 1)

	f.bridge.Stop()
	f.bridge.Stop()
	require.NoError(t, f.bus.Publish(context.Background(), "p1",
		event.New(&event.MessageComplete{Session: "s1", MessageID: "m2"})))
	assert.Len(t, sink.received(), 1, "no delivery after Stop")
}
