package vfs

import (
	"encoding/json"
	"sort"
	"strings"
)

// MergeDocument merges patch into dst using Firestore merge semantics:
// nested maps merge recursively, every other value replaces what dst held.
// Sealed values count as opaque leaves on either side. dst is modified in
// place and returned; a nil dst is allocated.
func MergeDocument(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		pm, ok := v.(map[string]any)
		if !ok || len(pm) == 0 || isSealed(pm) {
			dst[k] = v
			continue
		}
		dm, ok := dst[k].(map[string]any)
		if !ok || isSealed(dm) {
			dm = nil
		}
		dst[k] = MergeDocument(dm, pm)
	}
	return dst
}

// LeafPaths returns the field paths, as segments, that a merge of patch
// touches, in lexical order. Empty maps and sealed values count as leaves.
func LeafPaths(patch map[string]any) [][]string {
	var out [][]string
	var walk func(prefix []string, m map[string]any)
	walk = func(prefix []string, m map[string]any) {
		for k, v := range m {
			p := append(append([]string(nil), prefix...), k)
			if sub, ok := v.(map[string]any); ok && len(sub) > 0 && !isSealed(sub) {
				walk(p, sub)
				continue
			}
			out = append(out, p)
		}
	}
	walk(nil, patch)
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i], "\x00") < strings.Join(out[j], "\x00")
	})
	return out
}

// getNested walks a dotted field path. The second result is false when any
// segment is missing or a non-map value sits in the way.
func getNested(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// nest wraps value in maps so that it sits at path, e.g.
// nest([a b], 1) = {a: {b: 1}}.
func nest(path []string, value any) map[string]any {
	out := map[string]any{path[len(path)-1]: value}
	for i := len(path) - 2; i >= 0; i-- {
		out = map[string]any{path[i]: out}
	}
	return out
}

// normalize converts arbitrary Go values into the plain JSON shapes every
// store understands: map[string]any, []any, string, float64, bool, nil.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func hasPrefixPath(s, prefix string) bool {
	return s == prefix || strings.HasPrefix(s, prefix+".")
}
