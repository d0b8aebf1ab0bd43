package vfs

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealedKey marks a sealed value: {"$enc": "<base64 nonce||ciphertext>"}.
const SealedKey = "$enc"

// Sealer encrypts values written under configured path prefixes.
type Sealer struct {
	key   []byte
	rules []string
}

// NewSealer builds a Sealer from a base64 encoded 32-byte key and a list of
// path prefixes such as "context:health" or "identity".
func NewSealer(encodedKey string, prefixes []string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	s := &Sealer{key: key}
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			s.rules = append(s.rules, strings.TrimSuffix(p, ":"))
		}
	}
	return s, nil
}

// Covers reports whether p falls under one of the sealer's prefixes.
// A bare collection rule covers every document in it.
func (s *Sealer) Covers(p Path) bool {
	if s == nil {
		return false
	}
	str := p.String()
	for _, r := range s.rules {
		if !strings.Contains(r, ":") {
			if p.Collection == r {
				return true
			}
			continue
		}
		if hasPrefixPath(str, r) {
			return true
		}
	}
	return false
}

// coversBelow reports whether a rule targets a field nested under p.
func (s *Sealer) coversBelow(p Path) bool {
	if s == nil {
		return false
	}
	prefix := p.String() + "."
	for _, r := range s.rules {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

// Seal encrypts a JSON-compatible value.
func (s *Sealer) Seal(v any) (map[string]any, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	return map[string]any{SealedKey: base64.StdEncoding.EncodeToString(sealed)}, nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(encoded string) (any, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, errors.New("sealed value too short")
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(plain, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// sealValue seals v when p is covered, or descends into maps when a rule
// targets a deeper field.
func (s *Sealer) sealValue(p Path, v any) (any, error) {
	if s.Covers(p) {
		return s.Seal(v)
	}
	m, ok := v.(map[string]any)
	if !ok || !s.coversBelow(p) {
		return v, nil
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

// openValue replaces every sealed marker below v with its plaintext.
func (s *Sealer) openValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if isSealed(t) {
			enc := t[SealedKey].(string)
			if s == nil {
				return v, nil
			}
			return s.Open(enc)
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			ov, err := s.openValue(child)
			if err != nil {
				return nil, err
			}
			out[k] = ov
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			ov, err := s.openValue(child)
			if err != nil {
				return nil, err
			}
			out[i] = ov
		}
		return out, nil
	default:
		return v, nil
	}
}

// isSealed reports whether m is a sealed marker produced by Seal.
func isSealed(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	_, ok := m[SealedKey].(string)
	return ok
}
