package vfs

import (
	"fmt"
	"strings"
)

// Path addresses a document, or a field inside it, using the
// "collection:doc.field" syntax, e.g. "context:health.bloodwork".
type Path struct {
	Collection string
	Doc        string
	Field      string // dotted, optional
}

// ParsePath splits a VFS path at its ':' into collection and rest. The
// first '.'-separated segment of rest is the document id; any remaining
// segments form the field. A path with more than one ':' is invalid.
func ParsePath(s string) (Path, error) {
	collection, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" || strings.Contains(rest, ":") {
		return Path{}, fmt.Errorf("%w: %s", ErrInvalidPath, s)
	}

	doc, field, dotted := strings.Cut(rest, ".")
	p := Path{Collection: collection, Doc: doc, Field: field}
	if !p.valid() || (dotted && field == "") {
		return Path{}, fmt.Errorf("%w: %s", ErrInvalidPath, s)
	}
	return p, nil
}

// ParseCollection accepts "collection", "collection:" or a full path and
// returns the collection name. Used by List, which ignores doc and field.
func ParseCollection(s string) (string, error) {
	collection, _, _ := strings.Cut(s, ":")
	if !validSegment(collection) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, s)
	}
	return collection, nil
}

func (p Path) valid() bool {
	if !validSegment(p.Collection) || !validSegment(p.Doc) {
		return false
	}
	if p.Field != "" {
		for _, seg := range strings.Split(p.Field, ".") {
			if seg == "" {
				return false
			}
		}
	}
	return true
}

// validSegment rejects names that cannot be used as a collection or
// document id in every backend.
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}

// FieldPath returns the field split into segments, or nil.
func (p Path) FieldPath() []string {
	if p.Field == "" {
		return nil
	}
	return strings.Split(p.Field, ".")
}

// DocPath returns the path without its field.
func (p Path) DocPath() Path {
	return Path{Collection: p.Collection, Doc: p.Doc}
}

// Child returns the path of a field one level below p.
func (p Path) Child(key string) Path {
	c := p
	if c.Field == "" {
		c.Field = key
	} else {
		c.Field += "." + key
	}
	return c
}

func (p Path) String() string {
	s := p.Collection + ":" + p.Doc
	if p.Field != "" {
		s += "." + p.Field
	}
	return s
}

// UserCollection is the storage collection path holding a user's documents.
func UserCollection(userID, collection string) string {
	return "users/" + userID + "/" + collection
}
