package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nousos/nous/internal/vfs"
)

// DocStore implements vfs.DocStore on the documents table. Each document
// is one row holding its JSON body.
type DocStore struct {
	db *DB
}

var _ vfs.DocStore = (*DocStore)(nil)

// NewDocStore creates a document store using the given database.
func NewDocStore(db *DB) *DocStore {
	return &DocStore{db: db}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc(ctx context.Context, q querier, collection, id string) (map[string]any, error) {
	var data string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vfs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, id, err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *DocStore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	return getDoc(ctx, s.db.sql, collection, id)
}

// Set merges inside an immediate transaction, which holds the database
// write lock from the read to the commit, so concurrent writers to one
// document do not lose each other's fields.
func (s *DocStore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc := data
	if merge {
		cur, err := getDoc(ctx, tx, collection, id)
		if err != nil && !errors.Is(err, vfs.ErrNotFound) {
			return err
		}
		doc = vfs.MergeDocument(cur, data)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", collection, id, err)
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		collection, id, string(body), now, now,
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

func (s *DocStore) List(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id FROM documents WHERE collection = ? ORDER BY id`, collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *DocStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id,
	)
	return err
}

// Collections returns every collection path with its document count.
// Used by the status command.
func (s *DocStore) Collections(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT collection, COUNT(*) FROM documents GROUP BY collection`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var coll string
		var n int
		if err := rows.Scan(&coll, &n); err != nil {
			return nil, err
		}
		out[coll] = n
	}
	return out, rows.Err()
}
