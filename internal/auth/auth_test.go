// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToken_PriorityOrder(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.local/test", nil)
	r.Header.Set("Authorization", "Bearer bearer-token ")
	r.Header.Set(HeaderAPIKey, "header-token")
	assert.Equal(t, "bearer-token", ExtractToken(r))

	r.Header.Del("Authorization")
	assert.Equal(t, "header-token", ExtractToken(r))

	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	r.Header.Del(HeaderAPIKey)
	assert.Empty(t, ExtractToken(r))
}

func TestKeyringResolve(t *testing.T) {
	k, err := NewKeyring(map[string]string{"k-alice": "alice", "k-alice-2": "alice", "k-bob": "bob"})
	require.NoError(t, err)

	id, ok := k.Resolve("k-bob")
	assert.True(t, ok)
	assert.Equal(t, "bob", id)

	_, ok = k.Resolve("k-mallory")
	assert.False(t, ok)
	_, ok = k.Resolve("")
	assert.False(t, ok)

	assert.Equal(t, []string{"alice", "bob"}, k.Principals())

	_, err = NewKeyring(map[string]string{"": "alice"})
	assert.Error(t, err)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	id, ok := PrincipalFromContext(WithPrincipal(context.Background(), "alice"))
	assert.True(t, ok)
	assert.Equal(t, "alice", id)
}
