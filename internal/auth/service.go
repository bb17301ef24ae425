package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"medinote/internal/domain"
	"medinote/internal/store"
)

const minPasswordLength = 6

var (
	ErrInvalidInput       = errors.New("invalid sign-up details")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("missing, invalid or expired token")
)

// UserStore persists clinician accounts.
type UserStore interface {
	CreateUser(ctx context.Context, email, name, passwordHash string) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
}

// SessionStore keeps live sessions. Get returns store.ErrNotFound for
// unknown or expired ids.
type SessionStore interface {
	Save(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
}

// Grant is what a successful sign-in or sign-up hands back to the client.
type Grant struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"accessToken"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

type claims struct {
	jwt.RegisteredClaims
}

// Service signs clinicians in and validates their tokens. A token is only
// accepted while the session it names still exists in the session store, so
// signing out revokes it immediately.
type Service struct {
	users    UserStore
	sessions SessionStore
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewService(users UserStore, sessions SessionStore, secret string, ttl time.Duration) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("MEDINOTE_JWT_SECRET is required for the HTTP service")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		users:    users,
		sessions: sessions,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

func (s *Service) SignUp(ctx context.Context, email, name, password string) (*Grant, error) {
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, email, name, string(hash))
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Grant, error) {
	user, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

// SignOut deletes the session behind token. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	c, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.sessions.Delete(ctx, c.ID)
}

// Authenticate resolves a bearer token to its user and live session.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, *domain.Session, error) {
	c, err := s.parse(token)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}
	session, err := s.sessions.Get(ctx, c.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrUnauthorized
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if session.UserID != c.Subject || session.Expired(s.now()) {
		return nil, nil, ErrUnauthorized
	}
	user, err := s.users.UserByID(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrUnauthorized
	}
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

func (s *Service) issue(ctx context.Context, user *domain.User) (*Grant, error) {
	now := s.now()
	session := domain.Session{ID: uuid.NewString(), UserID: user.ID, ExpiresAt: now.Add(s.ttl)}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        session.ID,
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		Issuer:    "medinote",
	}})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Grant{User: user, AccessToken: signed, ExpiresAt: session.ExpiresAt}, nil
}

func (s *Service) parse(token string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("medinote"),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if c.ID == "" || c.Subject == "" {
		return nil, errors.New("token lacks session or subject")
	}
	return &c, nil
}
