package vfs

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opener func(opts Options) VFS

// exerciseVFS runs the behavior every adapter must share. backend returns
// an opener over a fresh store; views opened from it share that store.
func exerciseVFS(t *testing.T, backend func(t *testing.T) opener) {
	ctx := context.Background()
	fresh := func(t *testing.T, opts Options) VFS { return backend(t)(opts) }

	t.Run("ReadMissing", func(t *testing.T) {
		v := fresh(t, Options{UserID: "u1"})
		_, err := v.Read(ctx, "context:health")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "context:health")

		ok, err := v.Exists(ctx, "context:health")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("InvalidPath", func(t *testing.T) {
		v := fresh(t, Options{UserID: "u1"})
		_, err := v.Read(ctx, "nocolon")
		assert.ErrorIs(t, err, ErrInvalidPath)
		assert.ErrorIs(t, v.Write(ctx, "context:", map[string]any{}), ErrInvalidPath)
		assert.ErrorIs(t, v.Delete(ctx, ""), ErrInvalidPath)
		_, err = v.Exists(ctx, "x")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("WriteReadMerge", func(t *testing.T) {
		v := fresh(t, Options{UserID: "u1"})
		require.NoError(t, v.Write(ctx, "context:health", map[string]any{
			"sleep":     7.5,
			"bloodwork": map[string]any{"glucose": 90},
		}))
		require.NoError(t, v.Write(ctx, "context:health", map[string]any{"steps": 8000}))
		require.NoError(t, v.Write(ctx, "context:health.bloodwork.ldl", 110))

		got, err := v.Read(ctx, "context:health")
		require.NoError(t, err)
		want := map[string]any{
			"sleep":     7.5,
			"steps":     8000.0,
			"bloodwork": map[string]any{"glucose": 90.0, "ldl": 110.0},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("document mismatch (-want +got):\n%s", diff)
		}

		field, err := v.Read(ctx, "context:health.bloodwork.glucose")
		require.NoError(t, err)
		assert.Equal(t, 90.0, field)

		missing, err := v.Read(ctx, "context:health.nothing.here")
		require.NoError(t, err)
		assert.Nil(t, missing)

		ok, err := v.Exists(ctx, "context:health.nothing")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("WriteNonObject", func(t *testing.T) {
		v := fresh(t, Options{UserID: "u1"})
		assert.ErrorIs(t, v.Write(ctx, "working:scratch", "just text"), ErrInvalidData)
		require.NoError(t, v.Write(ctx, "working:scratch.note", "just text"))

		got, err := v.Read(ctx, "working:scratch.note")
		require.NoError(t, err)
		assert.Equal(t, "just text", got)
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		v := fresh(t, Options{UserID: "u1"})
		for _, doc := range []string{"profile:main", "profile:alt", "identity:core"} {
			require.NoError(t, v.Write(ctx, doc, map[string]any{"x": true}))
		}

		for _, path := range []string{"profile", "profile:", "profile:main.x"} {
			ids, err := v.List(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, []string{"alt", "main"}, ids, path)
		}

		require.NoError(t, v.Delete(ctx, "profile:alt.ignored"))
		require.NoError(t, v.Delete(ctx, "profile:alt"))
		ids, err := v.List(ctx, "profile")
		require.NoError(t, err)
		assert.Equal(t, []string{"main"}, ids)

		empty, err := v.List(ctx, "logs")
		require.NoError(t, err)
		assert.NotNil(t, empty, "empty collections list as [] not null")
		assert.Empty(t, empty)
	})

	t.Run("UsersAreIsolated", func(t *testing.T) {
		open := backend(t)
		alice := open(Options{UserID: "alice"})
		bob := open(Options{UserID: "bob"})
		require.NoError(t, alice.Write(ctx, "identity:core", map[string]any{"name": "Alice"}))

		_, err := bob.Read(ctx, "identity:core")
		assert.ErrorIs(t, err, ErrNotFound)
		ids, err := bob.List(ctx, "identity")
		require.NoError(t, err)
		assert.Empty(t, ids)

		again := open(Options{UserID: "alice"})
		name, err := again.Read(ctx, "identity:core.name")
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
	})

	t.Run("Encrypt", func(t *testing.T) {
		sealer, err := NewSealer(testKey(), []string{"context:health"})
		require.NoError(t, err)

		open := backend(t)
		v := open(Options{UserID: "u1", Encrypt: true, Sealer: sealer})
		require.NoError(t, v.Write(ctx, "context:health", map[string]any{"glucose": 91}))
		require.NoError(t, v.Write(ctx, "context:finance", map[string]any{"balance": 10}))

		got, err := v.Read(ctx, "context:health.glucose")
		require.NoError(t, err)
		assert.Equal(t, 91.0, got)

		// A view without the key sees the sealed marker.
		raw := open(Options{UserID: "u1"})
		sealed, err := raw.Read(ctx, "context:health.glucose")
		require.NoError(t, err)
		assert.Contains(t, sealed, SealedKey)

		plain, err := raw.Read(ctx, "context:finance.balance")
		require.NoError(t, err)
		assert.Equal(t, 10.0, plain)
	})

	t.Run("EncryptWriteBelowSealedField", func(t *testing.T) {
		sealer, err := NewSealer(testKey(), []string{"context:health"})
		require.NoError(t, err)

		open := backend(t)
		v := open(Options{UserID: "u1", Encrypt: true, Sealer: sealer})
		require.NoError(t, v.Write(ctx, "context:health.bloodwork", map[string]any{"hdl": 60}))
		require.NoError(t, v.Write(ctx, "context:health.bloodwork.ldl", 100))
		require.NoError(t, v.Write(ctx, "context:health.bloodwork.lipids.tg", 120))

		got, err := v.Read(ctx, "context:health.bloodwork")
		require.NoError(t, err)
		want := map[string]any{"hdl": 60.0, "ldl": 100.0, "lipids": map[string]any{"tg": 120.0}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("bloodwork mismatch (-want +got):\n%s", diff)
		}

		// The field stays one sealed value at rest.
		raw, err := open(Options{UserID: "u1"}).Read(ctx, "context:health.bloodwork")
		require.NoError(t, err)
		m, ok := raw.(map[string]any)
		require.True(t, ok)
		assert.Len(t, m, 1)
		assert.Contains(t, m, SealedKey)
	})

	t.Run("EncryptWriteBelowPlainField", func(t *testing.T) {
		open := backend(t)
		require.NoError(t, open(Options{UserID: "u1"}).Write(ctx, "context:health.bloodwork", map[string]any{"hdl": 60}))

		sealer, err := NewSealer(testKey(), []string{"context:health"})
		require.NoError(t, err)
		v := open(Options{UserID: "u1", Encrypt: true, Sealer: sealer})
		require.NoError(t, v.Write(ctx, "context:health.bloodwork.ldl", 100))

		got, err := v.Read(ctx, "context:health.bloodwork")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"hdl": 60.0, "ldl": 100.0}, got)
	})
}

func TestNewDocumentVFS_RequiresUser(t *testing.T) {
	_, err := NewDocumentVFS(NewMemoryStore(), Options{})
	assert.ErrorIs(t, err, ErrNoUser)

	_, err = NewBlobVFS(nil, Options{})
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestDocumentVFS(t *testing.T) {
	exerciseVFS(t, func(t *testing.T) opener {
		store := NewMemoryStore()
		return func(opts Options) VFS {
			v, err := NewDocumentVFS(store, opts)
			require.NoError(t, err)
			return v
		}
	})
}

func TestBlobVFS(t *testing.T) {
	exerciseVFS(t, func(t *testing.T) opener {
		store, err := NewDirBlobStore(t.TempDir())
		require.NoError(t, err)
		return func(opts Options) VFS {
			v, err := NewBlobVFS(store, opts)
			require.NoError(t, err)
			return v
		}
	})
}

func TestMounter(t *testing.T) {
	ctx := context.Background()
	m := NewDocumentMounter(NewMemoryStore(), Options{})

	a, err := m.Mount("a")
	require.NoError(t, err)
	require.NoError(t, a.Write(ctx, "working:today", map[string]any{"focus": "deep work"}))

	b, err := m.Mount("b")
	require.NoError(t, err)
	ok, err := b.Exists(ctx, "working:today")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Mount("")
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestMounter_ConcurrentFieldWrites(t *testing.T) {
	blobs, err := NewDirBlobStore(t.TempDir())
	require.NoError(t, err)
	mounters := map[string]*Mounter{
		"document": NewDocumentMounter(NewMemoryStore(), Options{}),
		"blob":     NewBlobMounter(blobs, Options{}),
	}

	for name, m := range mounters {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const writers = 20
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					// a fresh view per write, as each request mounts its own
					v, err := m.Mount("u1")
					if !assert.NoError(t, err) {
						return
					}
					assert.NoError(t, v.Write(ctx, fmt.Sprintf("context:health.f%d", i), i))
				}(i)
			}
			wg.Wait()

			v, err := m.Mount("u1")
			require.NoError(t, err)
			got, err := v.Read(ctx, "context:health")
			require.NoError(t, err)
			assert.Len(t, got, writers)
			assert.Zero(t, m.base.locks.held())
		})
	}
}
