package vfs

import (
	"context"
	"errors"
	"sync"

	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/logging"
)

const (
	// AuditCollection and AuditDoc locate a user's access log.
	AuditCollection = "logs"
	AuditDoc        = "access"
	// AuditLimit bounds the number of retained entries.
	AuditLimit = 100
)

// AccessEntry is one line of a user's access log.
type AccessEntry struct {
	Op     string `json:"op"`
	Path   string `json:"path"`
	Result string `json:"result,omitempty"`
	At     string `json:"at"`
}

// AuditTrail appends vfs_access events to logs:access of the user that
// performed them. It writes to the DocStore directly so recording never
// triggers another access event.
type AuditTrail struct {
	store DocStore
	log   *logging.Logger
	mu    sync.Mutex
}

// NewAuditTrail returns an AuditTrail writing into store.
func NewAuditTrail(store DocStore, log *logging.Logger) *AuditTrail {
	return &AuditTrail{store: store, log: log.Sub("audit")}
}

// Register subscribes the trail to vfs_access events.
func (a *AuditTrail) Register(m *hooks.Manager) {
	m.On(hooks.EventVFSAccess, "audit-trail", func(ctx context.Context, p hooks.Payload) error {
		user := p.Str("userId")
		if user == "" {
			return nil
		}
		return a.Record(ctx, user, AccessEntry{
			Op:     p.Str("op"),
			Path:   p.Str("path"),
			Result: p.Str("result"),
			At:     p.Str("at"),
		})
	})
}

// Record appends e and trims the log to AuditLimit entries.
func (a *AuditTrail) Record(ctx context.Context, userID string, e AccessEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.load(ctx, userID)
	if err != nil {
		return err
	}
	entries = append(entries, map[string]any{
		"op":     e.Op,
		"path":   e.Path,
		"result": e.Result,
		"at":     e.At,
	})
	if len(entries) > AuditLimit {
		entries = entries[len(entries)-AuditLimit:]
	}
	return a.store.Set(ctx, UserCollection(userID, AuditCollection), AuditDoc,
		map[string]any{"entries": entries}, true)
}

// Entries returns the user's access log, oldest first.
func (a *AuditTrail) Entries(ctx context.Context, userID string) ([]AccessEntry, error) {
	raw, err := a.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]AccessEntry, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		e := AccessEntry{}
		e.Op, _ = m["op"].(string)
		e.Path, _ = m["path"].(string)
		e.Result, _ = m["result"].(string)
		e.At, _ = m["at"].(string)
		out = append(out, e)
	}
	return out, nil
}

func (a *AuditTrail) load(ctx context.Context, userID string) ([]any, error) {
	doc, err := a.store.Get(ctx, UserCollection(userID, AuditCollection), AuditDoc)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries, _ := doc["entries"].([]any)
	return entries, nil
}
