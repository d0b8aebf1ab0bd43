package vfs

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// DocStore is a document database addressed by collection path and id.
// Collection paths look like "users/{uid}/context".
type DocStore interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	// Set writes data. With merge, data is merged per MergeDocument;
	// without, the document is replaced.
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	List(ctx context.Context, collection string) ([]string, error)
	// Delete is a no-op for missing documents.
	Delete(ctx context.Context, collection, id string) error
}

// DocumentVFS implements VFS over a DocStore.
type DocumentVFS struct {
	core
	store DocStore
}

var _ VFS = (*DocumentVFS)(nil)

// NewDocumentVFS returns a view of opts.UserID's documents in store.
func NewDocumentVFS(store DocStore, opts Options) (*DocumentVFS, error) {
	c, err := newCore(opts, "vfs")
	if err != nil {
		return nil, err
	}
	return &DocumentVFS{core: c, store: store}, nil
}

func (v *DocumentVFS) Read(ctx context.Context, path string) (out any, err error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	defer func() { v.logAccess(ctx, "read", path, err) }()

	doc, err := v.store.Get(ctx, v.collection(p.Collection), p.Doc)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return v.project(p, doc)
}

func (v *DocumentVFS) Write(ctx context.Context, path string, data any) (err error) {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	defer func() { v.logAccess(ctx, "write", path, err) }()

	unlock := v.lockDoc(p)
	defer unlock()

	patch, err := v.patchFor(p, data, func() (map[string]any, error) {
		doc, err := v.store.Get(ctx, v.collection(p.Collection), p.Doc)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return doc, err
	})
	if err != nil {
		return err
	}
	return v.store.Set(ctx, v.collection(p.Collection), p.Doc, patch, true)
}

func (v *DocumentVFS) List(ctx context.Context, path string) (ids []string, err error) {
	collection, err := ParseCollection(path)
	if err != nil {
		return nil, err
	}
	defer func() { v.logAccess(ctx, "list", path, err) }()

	ids, err = v.store.List(ctx, v.collection(collection))
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	return ids, nil
}

func (v *DocumentVFS) Delete(ctx context.Context, path string) (err error) {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	defer func() { v.logAccess(ctx, "delete", path, err) }()

	return v.store.Delete(ctx, v.collection(p.Collection), p.Doc)
}

func (v *DocumentVFS) Exists(ctx context.Context, path string) (bool, error) {
	return exists(ctx, v, path)
}

func exists(ctx context.Context, v VFS, path string) (bool, error) {
	_, err := v.Read(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
