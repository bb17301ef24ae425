package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"medinote/internal/domain"
)

// Users persists clinician accounts.
type Users struct {
	db *gorm.DB
}

func NewUsers(db *gorm.DB) *Users { return &Users{db: db} }

// CreateUser stores a new account. Emails are compared case-insensitively.
func (s *Users) CreateUser(ctx context.Context, email, name, passwordHash string) (*domain.User, error) {
	row := userRow{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Users) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "email = ?", normalizeEmail(email)).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *Users) UserByID(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{ID: r.ID, Email: r.Email, Name: r.Name, PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Sessions keeps sign-in sessions in the database. It is used when no Redis
// address is configured.
type Sessions struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessions(db *gorm.DB) *Sessions {
	return &Sessions{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Sessions) Save(ctx context.Context, session domain.Session) error {
	row := sessionRow{ID: session.ID, UserID: session.UserID, ExpiresAt: session.ExpiresAt.UTC(), CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get returns a live session. Expired sessions are deleted and reported as ErrNotFound.
func (s *Sessions) Get(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	session := domain.Session{ID: row.ID, UserID: row.UserID, ExpiresAt: row.ExpiresAt}
	if session.Expired(s.now()) {
		_ = s.Delete(ctx, id)
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired removes every session past its expiry and returns how many were removed.
func (s *Sessions) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&sessionRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
