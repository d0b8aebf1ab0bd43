package store

import (
	"context"
	"time"
)

// TokenStore records revoked session token IDs until they expire.
type TokenStore struct {
	db *DB
}

// NewTokenStore creates a token store using the given database.
func NewTokenStore(db *DB) *TokenStore {
	return &TokenStore{db: db}
}

// Revoke marks jti as revoked until expiresAt.
func (s *TokenStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		 ON CONFLICT(jti) DO NOTHING`,
		jti, expiresAt.UTC().Format(timeLayout),
	)
	return err
}

// IsRevoked reports whether jti has been revoked.
func (s *TokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti).Scan(&n)
	return n > 0, err
}

// Prune drops revocations whose tokens expired before now and returns
// how many were removed.
func (s *TokenStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
