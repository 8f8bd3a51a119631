// Package authpw is the portal's auth service: email/password sign-in,
// current-user lookup from an access token, and sign-out.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseportal/api/internal/auth"
	"caseportal/api/internal/session"
	"caseportal/api/internal/store"
	"caseportal/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotSignedIn        = errors.New("not signed in")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

// SessionStore keeps one record per issued access token
type SessionStore interface {
	SaveSession(ctx context.Context, tokenHash string, record session.Record, expiresAt time.Time) error
	LookupSession(ctx context.Context, tokenHash string) (session.Record, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

// User is the identity the auth service vouches for.
type User struct {
	ID    string
	Email string
}

// Token is the result of a successful sign-in.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	User        User
}

// Service provides email/password authentication
type Service struct {
	users       UserStore
	sessions    SessionStore
	tokenSecret []byte
	ttl         time.Duration
	now         func() time.Time
}

// NewService creates a new auth service
func NewService(users UserStore, sessions SessionStore, tokenSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		users:       users,
		sessions:    sessions,
		tokenSecret: []byte(tokenSecret),
		ttl:         ttl,
		now:         time.Now,
	}
}

// SignInWithPassword checks the credentials and opens a session.
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (Token, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Token{}, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Token{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	expiresAt := s.now().Add(s.ttl)
	accessToken, err := auth.IssueToken(s.tokenSecret, user.ID, user.Email, util.NewID("jti"), expiresAt)
	if err != nil {
		return Token{}, err
	}
	record := session.Record{UserID: user.ID, Email: user.Email, CreatedAt: s.now()}
	if err := s.sessions.SaveSession(ctx, auth.HashToken(accessToken), record, expiresAt); err != nil {
		return Token{}, fmt.Errorf("open session: %w", err)
	}

	return Token{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		User:        User{ID: user.ID, Email: user.Email},
	}, nil
}

// CurrentUser returns the user behind a live access token. A token that
// parses but whose session was revoked is rejected.
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (User, error) {
	if strings.TrimSpace(accessToken) == "" {
		return User{}, ErrNotSignedIn
	}
	claims, err := auth.ParseToken(s.tokenSecret, accessToken)
	if err != nil {
		return User{}, err
	}
	record, err := s.sessions.LookupSession(ctx, auth.HashToken(accessToken))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return User{}, ErrNotSignedIn
		}
		return User{}, fmt.Errorf("lookup session: %w", err)
	}
	if record.UserID != claims.Subject {
		return User{}, auth.ErrInvalidToken
	}
	return User{ID: record.UserID, Email: record.Email}, nil
}

// SignOut revokes the session behind accessToken.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return ErrNotSignedIn
	}
	if err := s.sessions.RevokeSession(ctx, auth.HashToken(accessToken)); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// HashPassword returns the bcrypt hash stored for a new account.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
