// Package vfs exposes a user's documents (identity, context, profile,
// working memory and logs) through "collection:doc.field" paths, backed by
// either a document store or a blob store.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/logging"
)

// VFS is a per-user view over document storage.
type VFS interface {
	// Read returns the whole document, or the field the path names.
	// A missing document is ErrNotFound; a missing field is nil.
	Read(ctx context.Context, path string) (any, error)
	// Write merges data into the document, or sets the named field.
	Write(ctx context.Context, path string, data any) error
	// List returns the sorted document ids of a collection.
	List(ctx context.Context, path string) ([]string, error)
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error
	// Exists reports whether Read would succeed.
	Exists(ctx context.Context, path string) (bool, error)
}

// Options configures a VFS view.
type Options struct {
	UserID  string
	Encrypt bool
	Cache   bool // accepted for compatibility; nothing is cached

	Sealer *Sealer
	Hooks  *hooks.Manager
	Log    *logging.Logger

	// shared by every view of one Mounter
	locks *keyLocks
}

// core holds what every adapter shares: path scoping, sealing and access
// reporting.
type core struct {
	opts Options
	log  *logging.Logger
}

func newCore(opts Options, subsystem string) (core, error) {
	if opts.UserID == "" {
		return core{}, ErrNoUser
	}
	log := opts.Log
	if log == nil {
		log = logging.New(nil, "silent")
	}
	if opts.locks == nil {
		opts.locks = newKeyLocks()
	}
	return core{opts: opts, log: log.Sub(subsystem).With("user", opts.UserID)}, nil
}

// lockDoc serializes writers of the document at p.
func (c core) lockDoc(p Path) func() {
	return c.opts.locks.lock(c.collection(p.Collection) + "/" + p.Doc)
}

func (c core) collection(name string) string {
	return UserCollection(c.opts.UserID, name)
}

func (c core) sealer() *Sealer {
	if !c.opts.Encrypt {
		return nil
	}
	return c.opts.Sealer
}

// patchFor turns a write into the merge patch for the document at p.
// load returns the stored document (nil when absent); it is only called
// when the write lands below an already sealed field, which has to be
// opened, merged and sealed again as a whole.
func (c core) patchFor(p Path, data any, load func() (map[string]any, error)) (map[string]any, error) {
	v, err := normalize(data)
	if err != nil {
		return nil, err
	}
	s := c.sealer()

	if field := p.FieldPath(); field != nil {
		if n := c.sealedAncestor(p); n > 0 {
			return c.resealPatch(p, v, n, load)
		}
		sv, err := s.sealValue(p, v)
		if err != nil {
			return nil, err
		}
		return nest(field, sv), nil
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrInvalidData
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		sv, err := s.sealValue(p.Child(k), child)
		if err != nil {
			return nil, err
		}
		out[k] = sv
	}
	return out, nil
}

// sealedAncestor returns the length of the shortest field prefix of p that
// is sealed as one value, or 0 when no strict prefix is covered.
func (c core) sealedAncestor(p Path) int {
	s := c.sealer()
	if s == nil {
		return 0
	}
	field := p.FieldPath()
	for n := 1; n < len(field); n++ {
		anc := Path{Collection: p.Collection, Doc: p.Doc, Field: strings.Join(field[:n], ".")}
		if s.Covers(anc) {
			return n
		}
	}
	return 0
}

// resealPatch merges v into the plaintext of the sealed field made of the
// first n segments of p's field and returns a patch replacing it.
func (c core) resealPatch(p Path, v any, n int, load func() (map[string]any, error)) (map[string]any, error) {
	field := p.FieldPath()
	doc, err := load()
	if err != nil {
		return nil, err
	}

	var inner map[string]any
	if cur, ok := getNested(doc, field[:n]); ok {
		opened, err := c.opts.Sealer.openValue(cur)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", p.DocPath().Child(strings.Join(field[:n], ".")), err)
		}
		inner, _ = opened.(map[string]any)
	}
	inner = MergeDocument(inner, nest(field[n:], v))

	sealed, err := c.opts.Sealer.Seal(inner)
	if err != nil {
		return nil, err
	}
	return nest(field[:n], sealed), nil
}

// project opens sealed values and extracts the field the path names.
func (c core) project(p Path, doc map[string]any) (any, error) {
	opened, err := c.opts.Sealer.openValue(doc)
	if err != nil {
		return nil, err
	}
	field := p.FieldPath()
	if field == nil {
		return opened, nil
	}
	m, ok := opened.(map[string]any)
	if !ok {
		return nil, nil
	}
	v, _ := getNested(m, field)
	return v, nil
}

// logAccess records one VFS operation.
func (c core) logAccess(ctx context.Context, op string, path string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	c.log.Debug().Str("op", op).Str("path", path).Str("result", result).Msg("vfs access")
	c.opts.Hooks.Emit(ctx, hooks.EventVFSAccess, map[string]any{
		"userId": c.opts.UserID,
		"op":     op,
		"path":   path,
		"result": result,
		"at":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Mounter opens per-user views over a shared backend.
type Mounter struct {
	base Options
	open func(Options) (VFS, error)
}

// NewDocumentMounter mounts DocumentVFS views over store.
func NewDocumentMounter(store DocStore, base Options) *Mounter {
	base.locks = newKeyLocks()
	return &Mounter{base: base, open: func(o Options) (VFS, error) { return NewDocumentVFS(store, o) }}
}

// NewBlobMounter mounts BlobVFS views over store.
func NewBlobMounter(store BlobStore, base Options) *Mounter {
	base.locks = newKeyLocks()
	return &Mounter{base: base, open: func(o Options) (VFS, error) { return NewBlobVFS(store, o) }}
}

// Mount returns the VFS of a single user.
func (m *Mounter) Mount(userID string) (VFS, error) {
	o := m.base
	o.UserID = userID
	return m.open(o)
}
