package vfs

import (
	"context"
	"fmt"
	"testing"

	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditTrail_RecordsAccess(t *testing.T) {
	ctx := context.Background()
	log := logging.New(nil, "silent")
	store := NewMemoryStore()
	hm := hooks.NewManager(log)
	trail := NewAuditTrail(store, log)
	trail.Register(hm)

	v, err := NewDocumentVFS(store, Options{UserID: "u1", Hooks: hm, Log: log})
	require.NoError(t, err)

	require.NoError(t, v.Write(ctx, "identity:core", map[string]any{"name": "Ada"}))
	_, err = v.Read(ctx, "identity:core.name")
	require.NoError(t, err)
	_, err = v.Read(ctx, "identity:missing")
	require.ErrorIs(t, err, ErrNotFound)

	entries, err := trail.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "write", entries[0].Op)
	assert.Equal(t, "identity:core", entries[0].Path)
	assert.Equal(t, "ok", entries[1].Result)
	assert.Equal(t, "not_found", entries[2].Result)
	assert.NotEmpty(t, entries[2].At)

	other, err := trail.Entries(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAuditTrail_Bounded(t *testing.T) {
	ctx := context.Background()
	trail := NewAuditTrail(NewMemoryStore(), logging.New(nil, "silent"))

	for i := 0; i < AuditLimit+25; i++ {
		require.NoError(t, trail.Record(ctx, "u1", AccessEntry{Op: "read", Path: fmt.Sprintf("working:n%d", i)}))
	}

	entries, err := trail.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, AuditLimit)
	assert.Equal(t, "working:n25", entries[0].Path)
	assert.Equal(t, fmt.Sprintf("working:n%d", AuditLimit+24), entries[AuditLimit-1].Path)
}
