package bus

import (
	"context"
	"sync"

	"github.com/wefthq/weft/internal/realtime/event"

	"go.uber.org/zap"
)

// MemoryBus is the single-process bus. Dispatch is synchronous in the
// publisher's goroutine, which keeps per-producer ordering for free;
// slow-client isolation lives in the connection sinks, not here.
type MemoryBus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	nextID int
	scoped map[string]map[int]Handler
	global map[int]Handler
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		logger: logger.Named("bus.memory"),
		scoped: make(map[string]map[int]Handler),
		global: make(map[int]Handler),
	}
}

func (b *MemoryBus) Publish(_ context.Context, scope string, evt *event.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.scoped[scope])+len(b.global))
	for _, h := range b.scoped[scope] {
		handlers = append(handlers, h)
	}
	for _, h := range b.global {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(scope, evt, h)
	}
	return nil
}

// dispatch isolates handler panics so one bad subscriber cannot starve
// the rest or kill the publisher.
func (b *MemoryBus) dispatch(scope string, evt *event.Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("scope", scope),
				zap.String("kind", string(evt.Kind)),
				zap.Any("panic", r))
		}
	}()
	h(scope, evt)
}

func (b *MemoryBus) Subscribe(scope string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	handlers, ok := b.scoped[scope]
	if !ok {
		handlers = make(map[int]Handler)
		b.scoped[scope] = handlers
	}
	handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if handlers, ok := b.scoped[scope]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.scoped, scope)
			}
		}
	}
}

func (b *MemoryBus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	b.global[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.global, id)
	}
}

func (b *MemoryBus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scoped = make(map[string]map[int]Handler)
	b.global = make(map[int]Handler)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.scoped = make(map[string]map[int]Handler)
	b.global = make(map[int]Handler)
	return nil
}
