// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth resolves API keys to principal ids.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
)

// ErrUnauthenticated is returned when a request carries no valid key.
var ErrUnauthenticated = errors.New("auth: missing or invalid api key")

type keyEntry struct {
	digest    [sha256.Size]byte
	principal string
}

// Keyring is an immutable set of API keys. Lookups compare digests in
// constant time against every entry.
type Keyring struct {
	entries []keyEntry
}

// NewKeyring builds a keyring from key -> principal id.
func NewKeyring(keys map[string]string) (*Keyring, error) {
	k := &Keyring{entries: make([]keyEntry, 0, len(keys))}
	for key, principal := range keys {
		if key == "" || principal == "" {
			return nil, fmt.Errorf("auth: empty api key or principal id")
		}
		k.entries = append(k.entries, keyEntry{digest: sha256.Sum256([]byte(key)), principal: principal})
	}
	return k, nil
}

// Resolve returns the principal owning token.
func (k *Keyring) Resolve(token string) (string, bool) {
	if k == nil || token == "" {
		return "", false
	}
	d := sha256.Sum256([]byte(token))
	found := ""
	for _, e := range k.entries {
		if subtle.ConstantTimeCompare(d[:], e.digest[:]) == 1 {
			found = e.principal
		}
	}
	return found, found != ""
}

// Principals lists the distinct principal ids, sorted.
func (k *Keyring) Principals() []string {
	seen := make(map[string]struct{}, len(k.entries))
	out := make([]string, 0, len(k.entries))
	for _, e := range k.entries {
		if _, ok := seen[e.principal]; ok {
			continue
		}
		seen[e.principal] = struct{}{}
		out = append(out, e.principal)
	}
	sort.Strings(out)
	return out
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal id in ctx.
func WithPrincipal(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, principalKey{}, id)
}

// PrincipalFromContext returns the authenticated principal id, if any.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok && id != ""
}
