package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nousos/nous/internal/domain"
)

// UserStore persists user accounts.
type UserStore struct {
	db *DB
}

// NewUserStore creates a user store using the given database.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, name, email, avatar, password_hash, created_at, updated_at`

// Create inserts u, assigning an ID and timestamps when unset. Emails are
// stored lower-cased; a taken email yields ErrDuplicate.
func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Avatar, u.PasswordHash,
		u.CreatedAt.UTC().Format(timeLayout), u.UpdatedAt.UTC().Format(timeLayout),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, u.Email)
	}
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	s.db.log.Debug().Str("user", u.ID).Msg("user created")
	return nil
}

// ByID returns the user with the given ID, or ErrNotFound.
func (s *UserStore) ByID(ctx context.Context, id string) (*domain.User, error) {
	return s.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// ByEmail looks a user up case-insensitively, or returns ErrNotFound.
func (s *UserStore) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.one(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

// List returns all users ordered by creation time.
func (s *UserStore) List(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Delete removes a user along with their chat history.
func (s *UserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) one(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUser(s.db.sql.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	var createdAt, updatedAt string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Avatar, &u.PasswordHash, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	u.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &u, nil
}
