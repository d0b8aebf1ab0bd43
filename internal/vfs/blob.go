package vfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// BlobStore is an object store addressed by slash-separated keys.
type BlobStore interface {
	// Get returns ErrNotFound when the object does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// List returns every key that starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete is a no-op for missing objects.
	Delete(ctx context.Context, key string) error
}

const blobExt = ".json"

// BlobVFS implements VFS over a BlobStore, one JSON object per document
// at users/{uid}/{collection}/{doc}.json.
type BlobVFS struct {
	core
	store BlobStore
}

var _ VFS = (*BlobVFS)(nil)

// NewBlobVFS returns a view of opts.UserID's documents in store.
func NewBlobVFS(store BlobStore, opts Options) (*BlobVFS, error) {
	c, err := newCore(opts, "vfs-blob")
	if err != nil {
		return nil, err
	}
	return &BlobVFS{core: c, store: store}, nil
}

func (v *BlobVFS) key(p Path) string {
	return v.collection(p.Collection) + "/" + p.Doc + blobExt
}

func (v *BlobVFS) load(ctx context.Context, p Path) (map[string]any, error) {
	raw, err := v.store.Get(ctx, v.key(p))
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", v.key(p), err)
	}
	return doc, nil
}

func (v *BlobVFS) Read(ctx context.Context, path string) (out any, err error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	defer func() { v.logAccess(ctx, "read", path, err) }()

	doc, err := v.load(ctx, p)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return v.project(p, doc)
}

func (v *BlobVFS) Write(ctx context.Context, path string, data any) (err error) {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	defer func() { v.logAccess(ctx, "write", path, err) }()

	// objects are read, merged and put back whole
	unlock := v.lockDoc(p)
	defer unlock()

	doc, err := v.load(ctx, p)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	patch, err := v.patchFor(p, data, func() (map[string]any, error) { return doc, nil })
	if err != nil {
		return err
	}
	raw, err := json.Marshal(MergeDocument(doc, patch))
	if err != nil {
		return err
	}
	return v.store.Put(ctx, v.key(p), raw, "application/json")
}

func (v *BlobVFS) List(ctx context.Context, path string) (ids []string, err error) {
	collection, err := ParseCollection(path)
	if err != nil {
		return nil, err
	}
	defer func() { v.logAccess(ctx, "list", path, err) }()

	prefix := v.collection(collection) + "/"
	keys, err := v.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids = make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, blobExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, blobExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (v *BlobVFS) Delete(ctx context.Context, path string) (err error) {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	defer func() { v.logAccess(ctx, "delete", path, err) }()

	return v.store.Delete(ctx, v.key(p))
}

func (v *BlobVFS) Exists(ctx context.Context, path string) (bool, error) {
	return exists(ctx, v, path)
}
