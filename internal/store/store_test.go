package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nousos/nous/internal/domain"
	"github.com/nousos/nous/internal/logging"
	"github.com/nousos/nous/internal/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testUser(t *testing.T, db *DB, email string) *domain.User {
	t.Helper()
	u := &domain.User{Name: "Test", Email: email}
	require.NoError(t, NewUserStore(db).Create(context.Background(), u))
	return u
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestOpen_File(t *testing.T) {
	path := t.TempDir() + "/nested/nous.db"
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	v, err := db.schemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	err := db.migrate()
	require.NoError(t, err)

	v, err := db.schemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"documents", "users", "chat_messages", "chat_state", "chat_fts", "revoked_tokens"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

// --- DocStore tests ---

func TestDocStore_MissingDocument(t *testing.T) {
	s := NewDocStore(testDB(t))
	_, err := s.Get(context.Background(), "users/u1/context", "health")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestDocStore_SetMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	s := NewDocStore(testDB(t))
	coll := "users/u1/profile"

	require.NoError(t, s.Set(ctx, coll, "main", map[string]any{
		"name":  "Ada",
		"prefs": map[string]any{"theme": "dark"},
	}, true))
	require.NoError(t, s.Set(ctx, coll, "main", map[string]any{
		"prefs": map[string]any{"lang": "en"},
	}, true))

	got, err := s.Get(ctx, coll, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":  "Ada",
		"prefs": map[string]any{"theme": "dark", "lang": "en"},
	}, got)

	require.NoError(t, s.Set(ctx, coll, "main", map[string]any{"only": true}, false))
	got, err = s.Get(ctx, coll, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"only": true}, got)
}

func TestDocStore_ListDeleteCollections(t *testing.T) {
	ctx := context.Background()
	s := NewDocStore(testDB(t))

	require.NoError(t, s.Set(ctx, "users/u1/context", "health", map[string]any{}, true))
	require.NoError(t, s.Set(ctx, "users/u1/context", "finance", map[string]any{}, true))
	require.NoError(t, s.Set(ctx, "users/u2/context", "health", map[string]any{}, true))

	ids, err := s.List(ctx, "users/u1/context")
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "health"}, ids)

	colls, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"users/u1/context": 2, "users/u2/context": 1}, colls)

	require.NoError(t, s.Delete(ctx, "users/u1/context", "health"))
	require.NoError(t, s.Delete(ctx, "users/u1/context", "health"))
	ids, err = s.List(ctx, "users/u1/context")
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, ids)
}

// fileDB opens a WAL database on disk; unlike :memory: it uses a pool of
// connections that contend for the write lock.
func fileDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nous.db"), logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDocStore_ConcurrentMerges(t *testing.T) {
	ctx := context.Background()
	s := NewDocStore(fileDB(t))

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			field := fmt.Sprintf("f%d", i)
			assert.NoError(t, s.Set(ctx, "users/u1/context", "health", map[string]any{field: float64(i)}, true))
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "users/u1/context", "health")
	require.NoError(t, err)
	assert.Len(t, got, writers)
}

func TestDocStore_ListEmptyCollection(t *testing.T) {
	ids, err := NewDocStore(testDB(t)).List(context.Background(), "users/u1/identity")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestDocStore_BacksDocumentVFS(t *testing.T) {
	ctx := context.Background()
	v, err := vfs.NewDocumentVFS(NewDocStore(testDB(t)), vfs.Options{UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, v.Write(ctx, "identity:core.persona.tone", "friendly"))
	got, err := v.Read(ctx, "identity:core.persona")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tone": "friendly"}, got)
}

// --- UserStore tests ---

func TestUserStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := NewUserStore(testDB(t))

	u := &domain.User{Name: "Ada", Email: "  Ada@Example.COM ", PasswordHash: "hash"}
	require.NoError(t, s.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "ada@example.com", u.Email)

	byEmail, err := s.ByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, "hash", byEmail.PasswordHash)
	assert.WithinDuration(t, u.CreatedAt, byEmail.CreatedAt, time.Millisecond)

	byID, err := s.ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", byID.Name)

	_, err = s.ByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserStore_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := NewUserStore(testDB(t))

	require.NoError(t, s.Create(ctx, &domain.User{Name: "A", Email: "a@x.io"}))
	err := s.Create(ctx, &domain.User{Name: "B", Email: "A@X.io"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUserStore_ListDelete(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	s := NewUserStore(db)
	a := testUser(t, db, "a@x.io")
	testUser(t, db, "b@x.io")

	chat := NewChatStore(db)
	require.NoError(t, chat.Append(ctx, a.ID, &domain.Message{Role: domain.RoleUser, Content: "hi"}))

	users, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.ErrorIs(t, s.Delete(ctx, a.ID), ErrNotFound)

	msgs, err := chat.Messages(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "history is removed with the user")
}

// --- ChatStore tests ---

func TestChatStore_AppendMessages(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	u := testUser(t, db, "chat@x.io")
	s := NewChatStore(db)

	msgs, err := s.Messages(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	first := &domain.Message{Role: domain.RoleUser, Content: "show my cashflow"}
	require.NoError(t, s.Append(ctx, u.ID, first))
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	require.NoError(t, s.Append(ctx, u.ID, &domain.Message{
		Role:     domain.RoleAssistant,
		Content:  "Opening cashflow",
		Metadata: &domain.MessageMetadata{Action: "navigate", Target: "/domains/financial/cashflow"},
	}))

	msgs, err = s.Messages(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Metadata)
	assert.Equal(t, "navigate", msgs[1].Metadata.Action)
	assert.Nil(t, msgs[0].Metadata)
}

func TestChatStore_ClearAndContext(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	u := testUser(t, db, "ctx@x.io")
	s := NewChatStore(db)

	c, err := s.Context(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, c)

	require.NoError(t, s.SetContext(ctx, u.ID, "financial/cashflow"))
	require.NoError(t, s.SetContext(ctx, u.ID, "health"))
	c, err = s.Context(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "health", c)

	require.NoError(t, s.Append(ctx, u.ID, &domain.Message{Role: domain.RoleUser, Content: "x"}))
	require.NoError(t, s.Clear(ctx, u.ID))
	msgs, err := s.Messages(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChatStore_Search(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	a := testUser(t, db, "a@x.io")
	b := testUser(t, db, "b@x.io")
	s := NewChatStore(db)

	for _, content := range []string{"my monthly budget", "sleep report", "budget for groceries"} {
		require.NoError(t, s.Append(ctx, a.ID, &domain.Message{Role: domain.RoleUser, Content: content}))
	}
	require.NoError(t, s.Append(ctx, b.ID, &domain.Message{Role: domain.RoleUser, Content: "budget"}))

	hits, err := s.Search(ctx, a.ID, "budget", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.Search(ctx, a.ID, `budget groceries`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "budget for groceries", hits[0].Content)

	hits, err = s.Search(ctx, a.ID, "budget OR sleep", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "OR is matched as a word, not an operator")

	hits, err = s.Search(ctx, a.ID, `"( *`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Clear(ctx, a.ID))
	hits, err = s.Search(ctx, a.ID, "budget", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// --- TokenStore tests ---

func TestTokenStore(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(testDB(t))
	now := time.Now()

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.Revoke(ctx, "jti-1", now.Add(time.Hour)))
	require.NoError(t, s.Revoke(ctx, "jti-1", now.Add(time.Hour)))
	require.NoError(t, s.Revoke(ctx, "jti-old", now.Add(-time.Minute)))

	revoked, err = s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	n, err := s.Prune(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	revoked, err = s.IsRevoked(ctx, "jti-old")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"budget" "for"`, ftsQuery("budget  for"))
	assert.Equal(t, `"say" """hi"""`, ftsQuery(`say "hi"`))
	assert.Equal(t, "", ftsQuery("  ( * "))
}
