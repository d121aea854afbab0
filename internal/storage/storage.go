package storage

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when the requested session does not exist in the project
	ErrSessionNotFound = errors.New("session not found")
)

// Store defines the durable store consumed by the realtime layer.
// Every query is scoped to a project; ordering is by creation time with
// the record ID as a stable tiebreaker.
type Store interface {
	// Close closes the underlying database connection.
	Close() error

	// CreateSession creates a new session.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession returns a session by ID, or ErrSessionNotFound.
	GetSession(ctx context.Context, projectID, sessionID string) (*Session, error)

	// ListSessions returns all sessions in a project, newest first.
	ListSessions(ctx context.Context, projectID string) ([]*Session, error)

	// UpdateSessionTitle updates the title of a session.
	UpdateSessionTitle(ctx context.Context, projectID, sessionID, title string) error

	// DeleteSession deletes a session and everything belonging to it.
	DeleteSession(ctx context.Context, projectID, sessionID string) error

	// CreateMessage appends a message to a session.
	CreateMessage(ctx context.Context, message *Message) error

	// ListMessages returns the ordered messages of a session.
	ListMessages(ctx context.Context, projectID, sessionID string) ([]*Message, error)

	// CreatePart appends a part to a message.
	CreatePart(ctx context.Context, part *Part) error

	// ListParts returns the ordered parts of a message.
	ListParts(ctx context.Context, projectID, messageID string) ([]*Part, error)
}
