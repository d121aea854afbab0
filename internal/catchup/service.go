package catchup

import (
	"context"
	"errors"
	"time"

	"github.com/wefthq/weft/internal/realtime/conn"
	"github.com/wefthq/weft/internal/realtime/event"
	"github.com/wefthq/weft/internal/storage"
	"github.com/wefthq/weft/pkg/metrics"
	"github.com/wefthq/weft/pkg/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Service rebuilds a client's ordered view of one session from the durable
// store. The bus keeps no replay log, so this is the only way back for a
// client that missed events.
type Service struct {
	logger   *zap.Logger
	store    storage.Store
	registry *conn.Registry
	metrics  *metrics.Metrics
	tracer   *trace.Builder
}

func New(logger *zap.Logger, store storage.Store, registry *conn.Registry, m *metrics.Metrics) *Service {
	return &Service{
		logger:   logger.Named("catchup"),
		store:    store,
		registry: registry,
		metrics:  m,
		tracer:   trace.Tracer("weft.catchup"),
	}
}

// Snapshot reconstructs session state for one client. When the cursor
// matches a message in the session, only messages strictly after it are
// included and the cursor is echoed back; an absent or unknown cursor
// yields the full sequence with an empty cursor. Unknown cursors fail
// open toward completeness, never toward dropped history. An unknown
// session is reported to the caller.
func (s *Service) Snapshot(ctx context.Context, projectID, sessionID, lastMessageID string) (*event.SessionSync, error) {
	start := time.Now()
	span := s.tracer.Start(ctx, "catchup.snapshot").WithAttrs(
		attribute.String("project_id", projectID),
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	ctx = span.Ctx

	sess, err := s.store.GetSession(ctx, projectID, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			s.metrics.CatchupDone("not_found", start)
		} else {
			s.metrics.CatchupDone("error", start)
		}
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, projectID, sessionID)
	if err != nil {
		s.metrics.CatchupDone("error", start)
		return nil, err
	}

	cursor := ""
	if lastMessageID != "" {
		if idx := indexOf(messages, lastMessageID); idx >= 0 {
			messages = messages[idx+1:]
			cursor = lastMessageID
		} else {
			s.logger.Debug("catch-up cursor not found, returning full history",
				zap.String("session_id", sessionID),
				zap.String("last_message_id", lastMessageID))
		}
	}

	sync := &event.SessionSync{
		Session:       *sess,
		Messages:      make([]event.SyncMessage, 0, len(messages)),
		LastMessageID: cursor,
	}
	for _, msg := range messages {
		parts, err := s.store.ListParts(ctx, projectID, msg.ID)
		if err != nil {
			s.metrics.CatchupDone("error", start)
			return nil, err
		}
		sync.Messages = append(sync.Messages, event.SyncMessage{Message: *msg, Parts: parts})
	}

	outcome := "full"
	if cursor != "" {
		outcome = "after_cursor"
	}
	s.metrics.CatchupDone(outcome, start)
	return sync, nil
}

// PushTo resynchronizes one connection without broadcasting. A session
// deleted between the client's request and this lookup is a reconnect
// race, not a caller error, so an unknown session writes nothing and
// returns nil. Missing or closed connections are skipped the same way.
func (s *Service) PushTo(ctx context.Context, connID, projectID, sessionID, lastMessageID string) error {
	sync, err := s.Snapshot(ctx, projectID, sessionID, lastMessageID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			s.logger.Debug("catch-up push for unknown session",
				zap.String("conn_id", connID),
				zap.String("session_id", sessionID))
			return nil
		}
		return err
	}

	c, ok := s.registry.Get(connID)
	if !ok || !c.IsOpen() {
		return nil
	}

	frame, err := event.EncodeFrame(event.New(sync))
	if err != nil {
		return err
	}
	if err := c.Send(frame); err != nil {
		s.logger.Warn("failed to write sync frame",
			zap.String("conn_id", connID),
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	return nil
}

func indexOf(messages []*storage.Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
