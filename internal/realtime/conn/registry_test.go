package conn

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSink records writes and can be flipped closed or failing.
type fakeSink struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	fail   error
}

func (s *fakeSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestRegistry() *Registry {
	return NewRegistry(zap.NewNop())
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := newTestRegistry()
	c := New("c1", "u1", "p1", &fakeSink{})

	r.Add(c)
	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 1, r.Len())

	r.Remove("c1")
	_, ok = r.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_AddDisplacesExisting(t *testing.T) {
	r := newTestRegistry()
	oldSink := &fakeSink{}
	r.Add(New("c1", "u1", "p1", oldSink))
	r.Add(New("c1", "u1", "p1", &fakeSink{}))

	assert.Equal(t, 1, r.Len())
	assert.False(t, oldSink.IsOpen(), "displaced sink should be closed")
	assert.True(t, r.IsOpen("c1"))
}

func TestRegistry_RemoveFiresHooks(t *testing.T) {
	r := newTestRegistry()
	var removed []string
	r.OnRemove(func(connID string) { removed = append(removed, connID) })
	r.Add(New("c1", "u1", "p1", &fakeSink{}))

	r.Remove("c1")
	assert.Equal(t, []string{"c1"}, removed)

	// absent IDs are a no-op and never reach the hooks
	r.Remove("c1")
	r.Remove("ghost")
	assert.Equal(t, []string{"c1"}, removed)
}

func TestRegistry_IsOpen(t *testing.T) {
	r := newTestRegistry()
	sink := &fakeSink{}
	r.Add(New("c1", "u1", "p1", sink))

	assert.True(t, r.IsOpen("c1"))
	require.NoError(t, sink.Close())
	assert.False(t, r.IsOpen("c1"), "closed transport, still registered")
	assert.False(t, r.IsOpen("ghost"))
}

func TestRegistry_Touch(t *testing.T) {
	r := newTestRegistry()
	c := New("c1", "u1", "p1", &fakeSink{})
	r.Add(c)

	before := c.LastActive()
	time.Sleep(5 * time.Millisecond)
	r.Touch("c1")
	assert.True(t, c.LastActive().After(before))

	r.Touch("ghost")
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry()
	s1, s2 := &fakeSink{}, &fakeSink{}
	r.Add(New("c1", "u1", "p1", s1))
	r.Add(New("c2", "u2", "p1", s2))

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	assert.False(t, s1.IsOpen())
	assert.False(t, s2.IsOpen())
}

func TestConn_SendFailure(t *testing.T) {
	sink := &fakeSink{fail: errors.New("write: broken pipe")}
	c := New("c1", "u1", "p1", sink)

	assert.Error(t, c.Send([]byte("x")))
	assert.Equal(t, 0, sink.sentCount())
}
