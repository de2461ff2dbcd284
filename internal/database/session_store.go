package database

import (
	"context"
	"fmt"
	"time"

	"stockroom/internal/models"

	"github.com/jinzhu/gorm"
)

// DefaultSlot is the session slot used by the single-operator service
const DefaultSlot = "default"

// sessionRow keeps token and issuance time in one row so they are written and cleared together.
type sessionRow struct {
	Slot           string `gorm:"primary_key"`
	AccessToken    string `gorm:"type:text"`
	RefreshToken   string `gorm:"type:text"`
	Account        string
	IssuedAtMillis int64
}

func (sessionRow) TableName() string { return "sessions" }

// SessionStore persists the operator session
type SessionStore struct {
	db   *gorm.DB
	slot string
}

// NewSessionStore returns a store bound to one slot.
func NewSessionStore(db *gorm.DB, slot string) *SessionStore {
	if slot == "" {
		slot = DefaultSlot
	}
	return &SessionStore{db: db, slot: slot}
}

// Load returns the persisted session, or nil when none is stored.
func (s *SessionStore) Load(ctx context.Context) (*models.Session, error) {
	var row sessionRow
	err := s.db.Where("slot = ?", s.slot).First(&row).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &models.Session{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		Account:      row.Account,
		IssuedAt:     time.UnixMilli(row.IssuedAtMillis),
	}, nil
}

// Save replaces the whole persisted session.
func (s *SessionStore) Save(ctx context.Context, sess *models.Session) error {
	row := sessionRow{
		Slot:           s.slot,
		AccessToken:    sess.AccessToken,
		RefreshToken:   sess.RefreshToken,
		Account:        sess.Account,
		IssuedAtMillis: sess.IssuedAt.UnixMilli(),
	}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear removes the persisted session. Clearing an empty slot is not an error.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.db.Where("slot = ?", s.slot).Delete(&sessionRow{}).Error; err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
