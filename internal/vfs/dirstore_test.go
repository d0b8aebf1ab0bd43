package vfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirBlobStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewDirBlobStore(root)
	require.NoError(t, err)

	_, err = s.Get(ctx, "users/u1/context/health.json")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "users/u1/context/health.json", []byte(`{"a":1}`), "application/json"))
	require.NoError(t, s.Put(ctx, "users/u1/context/finance.json", []byte(`{}`), "application/json"))
	require.NoError(t, s.Put(ctx, "users/u2/context/health.json", []byte(`{}`), "application/json"))

	data, err := s.Get(ctx, "users/u1/context/health.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
	assert.FileExists(t, filepath.Join(root, "users", "u1", "context", "health.json"))

	keys, err := s.List(ctx, "users/u1/context/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users/u1/context/health.json", "users/u1/context/finance.json"}, keys)

	keys, err = s.List(ctx, "users/u9/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Delete(ctx, "users/u1/context/health.json"))
	require.NoError(t, s.Delete(ctx, "users/u1/context/health.json"))
	_, err = os.Stat(filepath.Join(root, "users", "u1", "context", "health.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestDirBlobStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewDirBlobStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../x", "a/../../x", "/etc/passwd"} {
		_, err := s.Get(context.Background(), key)
		assert.Error(t, err, key)
		assert.NotErrorIs(t, err, ErrNotFound, key)
	}
}
