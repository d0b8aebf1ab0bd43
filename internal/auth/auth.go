// Package auth manages NOUS accounts and session tokens. In local mode
// passwords are verified against bcrypt hashes; in mock mode any
// credentials sign in, creating the account on first use.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/nousos/nous/internal/domain"
	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/logging"
	"github.com/nousos/nous/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	ModeLocal = "local"
	ModeMock  = "mock"

	minPasswordLen = 8
	// bcrypt only accepts the first 72 bytes.
	maxPasswordLen = 72
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRevoked            = errors.New("token revoked")
	ErrInvalidInput       = errors.New("invalid input")
)

// UserStore persists accounts.
type UserStore interface {
	Create(ctx context.Context, u *domain.User) error
	ByID(ctx context.Context, id string) (*domain.User, error)
	ByEmail(ctx context.Context, email string) (*domain.User, error)
}

// RevocationStore remembers logged-out tokens until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Session is what a successful sign-in returns to the client.
type Session struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Service implements signup, login, logout and token verification.
type Service struct {
	mode    string
	users   UserStore
	revoked RevocationStore
	signer  *Signer
	hooks   *hooks.Manager
	log     *logging.Logger
}

// NewService wires a Service. hm may be nil.
func NewService(mode string, users UserStore, revoked RevocationStore, signer *Signer, hm *hooks.Manager, log *logging.Logger) (*Service, error) {
	switch mode {
	case ModeLocal, ModeMock:
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", mode)
	}
	return &Service{
		mode:    mode,
		users:   users,
		revoked: revoked,
		signer:  signer,
		hooks:   hm,
		log:     log.Sub("auth"),
	}, nil
}

// Mode returns "local" or "mock".
func (s *Service) Mode() string { return s.mode }

// Signup creates an account and signs it in.
func (s *Service) Signup(ctx context.Context, name, email, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return nil, fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	u := &domain.User{Name: name, Email: email, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.log.Info().Str("user", u.ID).Msg("user signed up")
	s.hooks.Emit(ctx, hooks.EventUserSignup, map[string]any{"userId": u.ID})
	return s.session(ctx, u)
}

// Login verifies credentials and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	u, err := s.users.ByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound) && s.mode == ModeMock:
		u = &domain.User{Name: localPart(email), Email: email}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, err
		}
		s.hooks.Emit(ctx, hooks.EventUserSignup, map[string]any{"userId": u.ID, "mock": true})
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	case s.mode == ModeLocal:
		if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return nil, ErrInvalidCredentials
		}
	}

	s.log.Info().Str("user", u.ID).Str("mode", s.mode).Msg("user logged in")
	return s.session(ctx, u)
}

func (s *Service) session(ctx context.Context, u *domain.User) (*Session, error) {
	token, claims, err := s.signer.Issue(u)
	if err != nil {
		return nil, err
	}
	s.hooks.Emit(ctx, hooks.EventUserLogin, map[string]any{"userId": u.ID})
	return &Session{User: u, Token: token, ExpiresAt: claims.ExpiresAt}, nil
}

// Logout revokes the token. Logging out an already revoked token is fine.
func (s *Service) Logout(ctx context.Context, token string) error {
	c, err := s.signer.Parse(token)
	if err != nil {
		return err
	}
	if err := s.revoked.Revoke(ctx, c.TokenID, c.ExpiresAt); err != nil {
		return err
	}
	s.log.Info().Str("user", c.UserID).Msg("user logged out")
	s.hooks.Emit(ctx, hooks.EventUserLogout, map[string]any{"userId": c.UserID, "tokenId": c.TokenID})
	return nil
}

// Verify checks a token and that it has not been revoked.
func (s *Service) Verify(ctx context.Context, token string) (Claims, error) {
	c, err := s.signer.Parse(token)
	if err != nil {
		return Claims{}, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, c.TokenID)
	if err != nil {
		return Claims{}, err
	}
	if revoked {
		return Claims{}, ErrRevoked
	}
	return c, nil
}

// User loads the account behind verified claims.
func (s *Service) User(ctx context.Context, c Claims) (*domain.User, error) {
	u, err := s.users.ByID(ctx, c.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	return u, err
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return email, nil
}

func localPart(email string) string {
	name, _, _ := strings.Cut(email, "@")
	return name
}
