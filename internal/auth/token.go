package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/nousos/nous/internal/domain"
)

// Claims are the validated contents of a session token.
type Claims struct {
	UserID    string    `json:"sub"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Signer issues and validates HS256 session tokens.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a Signer. The secret must be at least 16 bytes.
func NewSigner(secret, issuer string, ttl time.Duration) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	return &Signer{key: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a new token for u.
func (s *Signer) Issue(u *domain.User) (string, Claims, error) {
	now := s.now().Truncate(time.Second)
	c := Claims{
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		TokenID:   uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	tok, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(c.UserID).
		JwtID(c.TokenID).
		IssuedAt(c.IssuedAt).
		Expiration(c.ExpiresAt).
		Claim("email", c.Email).
		Claim("name", c.Name).
		Build()
	if err != nil {
		return "", Claims{}, fmt.Errorf("building token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", Claims{}, fmt.Errorf("signing token: %w", err)
	}
	return string(signed), c, nil
}

// Parse verifies the signature, issuer and expiry of raw.
func (s *Signer) Parse(raw string) (Claims, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, s.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tok.Subject() == "" || tok.JwtID() == "" {
		return Claims{}, fmt.Errorf("%w: missing sub or jti", ErrInvalidToken)
	}

	c := Claims{
		UserID:    tok.Subject(),
		TokenID:   tok.JwtID(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
	}
	if v, ok := tok.Get("email"); ok {
		c.Email, _ = v.(string)
	}
	if v, ok := tok.Get("name"); ok {
		c.Name, _ = v.(string)
	}
	return c, nil
}
