package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wefthq/weft/internal/realtime/bus"
	"github.com/wefthq/weft/internal/realtime/event"
	"github.com/wefthq/weft/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultTimeout bounds how long a pending approval may wait for a human
// when the request does not say otherwise.
const DefaultTimeout = 5 * time.Minute

// Terminal statuses of an approval. Expiry and cancellation deny the call;
// they differ only in how they are reported.
const (
	StatusApproved  = "approved"
	StatusDenied    = "denied"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

var (
	// ErrAlreadyPending rejects registration over a live entry. Reusing a
	// call ID is a caller bug, not a race to absorb.
	ErrAlreadyPending = errors.New("approval already pending for call")

	// ErrNotPending signals a decision against an unknown call ID: never
	// registered, already decided, or expired.
	ErrNotPending = errors.New("no pending approval for call")
)

// Decision settles one approval. It is handed to the release continuation
// exactly once.
type Decision struct {
	CallID   string
	Status   string
	Approved bool
	Reason   string
}

// Release consumes the decision for one pending approval.
type Release func(d Decision)

// Request describes one tool call awaiting a human decision.
type Request struct {
	CallID    string
	SessionID string
	ProjectID string
	Tool      string
	Input     json.RawMessage
	Timeout   time.Duration // 0 means the table default
}

type entry struct {
	req     Request
	release Release
	timer   *time.Timer
}

// Table correlates outstanding approval requests with the decisions that
// settle them. Per call ID the lifecycle is absent, then pending, then
// exactly one of approved, denied, cancelled or expired, then absent
// again. Removal from the map and timer cancellation happen atomically
// before the release continuation runs, so a resolve racing an expiry is
// won by whichever takes the entry; the loser sees nothing to take.
type Table struct {
	logger         *zap.Logger
	bus            bus.Bus
	metrics        *metrics.Metrics
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*entry
}

func NewTable(logger *zap.Logger, b bus.Bus, m *metrics.Metrics, defaultTimeout time.Duration) *Table {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Table{
		logger:         logger.Named("approval"),
		bus:            b,
		metrics:        m,
		defaultTimeout: defaultTimeout,
		pending:        make(map[string]*entry),
	}
}

// Register creates a pending entry for req, arms its expiry timer, and
// announces the request on the bus so subscribed clients can prompt.
func (t *Table) Register(ctx context.Context, req Request, release Release) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	t.mu.Lock()
	if _, exists := t.pending[req.CallID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyPending, req.CallID)
	}
	e := &entry{req: req, release: release}
	e.timer = time.AfterFunc(timeout, func() { t.expire(req.CallID) })
	t.pending[req.CallID] = e
	t.mu.Unlock()

	t.metrics.ApprovalRegistered()
	t.logger.Debug("approval registered",
		zap.String("call_id", req.CallID),
		zap.String("session_id", req.SessionID),
		zap.Duration("timeout", timeout))

	t.publish(ctx, req.ProjectID, event.New(&event.ApprovalRequested{
		Session: req.SessionID,
		CallID:  req.CallID,
		Tool:    req.Tool,
		Input:   req.Input,
	}))
	return nil
}

// Resolve settles the pending approval for callID with a client's
// decision. An unknown call ID returns ErrNotPending, which covers both
// "never registered" and "somebody else got there first".
func (t *Table) Resolve(ctx context.Context, callID string, approved bool, reason string) error {
	e, ok := t.take(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, callID)
	}
	status := StatusDenied
	if approved {
		status = StatusApproved
	}
	t.finish(ctx, e, status, approved, reason)
	return nil
}

// CancelForSession denies every pending approval belonging to sessionID.
// Called when a session ends so no waiter is left suspended against a
// dead session. Returns how many entries were swept.
func (t *Table) CancelForSession(ctx context.Context, sessionID string) int {
	return t.sweep(ctx, "session ended", func(e *entry) bool {
		return e.req.SessionID == sessionID
	})
}

// CancelAll denies everything still pending. Shutdown path.
func (t *Table) CancelAll(ctx context.Context) int {
	return t.sweep(ctx, "server shutting down", func(*entry) bool { return true })
}

// Await registers req and blocks until the decision, the expiry, or ctx
// ends. Context cancellation sweeps the entry as cancelled; if a real
// decision slipped in first, that decision wins and is returned.
func (t *Table) Await(ctx context.Context, req Request) (Decision, error) {
	ch := make(chan Decision, 1)
	if err := t.Register(ctx, req, func(d Decision) { ch <- d }); err != nil {
		return Decision{}, err
	}

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		if e, ok := t.take(req.CallID); ok {
			t.finish(context.Background(), e, StatusCancelled, false, "request cancelled")
			return Decision{}, ctx.Err()
		}
		// lost the race to a decision already in flight
		return <-ch, nil
	}
}

// Len reports how many approvals are pending.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// take removes callID from the table and stops its timer, all under the
// lock. Whoever takes the entry owns its release.
func (t *Table) take(callID string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[callID]
	if !ok {
		return nil, false
	}
	e.timer.Stop()
	delete(t.pending, callID)
	return e, true
}

func (t *Table) sweep(ctx context.Context, reason string, match func(*entry) bool) int {
	t.mu.Lock()
	var taken []*entry
	for id, e := range t.pending {
		if match(e) {
			e.timer.Stop()
			delete(t.pending, id)
			taken = append(taken, e)
		}
	}
	t.mu.Unlock()

	for _, e := range taken {
		t.finish(ctx, e, StatusCancelled, false, reason)
	}
	return len(taken)
}

// expire is the timer callback. Finding nothing to take means a resolve
// won the race, and that is the end of it.
func (t *Table) expire(callID string) {
	e, ok := t.take(callID)
	if !ok {
		return
	}
	t.logger.Info("approval timed out",
		zap.String("call_id", callID),
		zap.String("session_id", e.req.SessionID))
	t.finish(context.Background(), e, StatusExpired, false, "approval timed out")
}

// finish runs the release continuation and rebroadcasts the outcome. The
// entry is already out of the table, so this runs at most once per call.
func (t *Table) finish(ctx context.Context, e *entry, status string, approved bool, reason string) {
	e.release(Decision{
		CallID:   e.req.CallID,
		Status:   status,
		Approved: approved,
		Reason:   reason,
	})
	t.metrics.ApprovalFinished(status)

	t.publish(ctx, e.req.ProjectID, event.New(&event.ApprovalResolved{
		Session:  e.req.SessionID,
		CallID:   e.req.CallID,
		Status:   status,
		Approved: approved,
		Reason:   reason,
	}))
}

func (t *Table) publish(ctx context.Context, projectID string, evt *event.Event) {
	if err := t.bus.Publish(ctx, projectID, evt); err != nil {
		t.logger.Warn("failed to publish approval event",
			zap.String("kind", string(evt.Kind)),
			zap.Error(err))
		return
	}
	t.metrics.EventPublished(string(evt.Kind))
}
