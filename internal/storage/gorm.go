package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// gormStore implements Store on top of a gorm.DB handle.
// The per-driver constructors only differ in how they open the handle.
type gormStore struct {
	db *gorm.DB
}

var _ Store = (*gormStore)(nil)

func newGormStore(db *gorm.DB) (*gormStore, error) {
	if err := db.AutoMigrate(&Session{}, &Message{}, &Part{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

// Close implements Store.Close
func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateSession implements Store.CreateSession
func (s *gormStore) CreateSession(ctx context.Context, session *Session) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// GetSession implements Store.GetSession
func (s *gormStore) GetSession(ctx context.Context, projectID, sessionID string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", sessionID, projectID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListSessions implements Store.ListSessions
func (s *gormStore) ListSessions(ctx context.Context, projectID string) ([]*Session, error) {
	var sessions []*Session
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at desc, id desc").
		Find(&sessions).Error
	return sessions, err
}

// UpdateSessionTitle implements Store.UpdateSessionTitle
func (s *gormStore) UpdateSessionTitle(ctx context.Context, projectID, sessionID, title string) error {
	result := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND project_id = ?", sessionID, projectID).
		Update("title", title)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession implements Store.DeleteSession
func (s *gormStore) DeleteSession(ctx context.Context, projectID, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND project_id = ?", sessionID, projectID).Delete(&Session{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		if err := tx.Where("session_id = ? AND project_id = ?", sessionID, projectID).Delete(&Part{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ? AND project_id = ?", sessionID, projectID).Delete(&Message{}).Error
	})
}

// CreateMessage implements Store.CreateMessage
func (s *gormStore) CreateMessage(ctx context.Context, message *Message) error {
	return s.db.WithContext(ctx).Create(message).Error
}

// ListMessages implements Store.ListMessages
func (s *gormStore) ListMessages(ctx context.Context, projectID, sessionID string) ([]*Message, error) {
	var messages []*Message
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND project_id = ?", sessionID, projectID).
		Order("created_at asc, id asc").
		Find(&messages).Error
	return messages, err
}

// CreatePart implements Store.CreatePart
func (s *gormStore) CreatePart(ctx context.Context, part *Part) error {
	return s.db.WithContext(ctx).Create(part).Error
}

// ListParts implements Store.ListParts
func (s *gormStore) ListParts(ctx context.Context, projectID, messageID string) ([]*Part, error) {
	var parts []*Part
	err := s.db.WithContext(ctx).
		Where("message_id = ? AND project_id = ?", messageID, projectID).
		Order("seq asc, created_at asc, id asc").
		Find(&parts).Error
	return parts, err
}
