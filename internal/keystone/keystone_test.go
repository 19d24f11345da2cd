package keystone

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
)

func newAuthServer(t *testing.T, authCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/tokens", r.URL.Path)
		require.Equal(t, "POST", r.Method)
		n := authCalls.Add(1)
		w.Header().Set("X-Subject-Token", fmt.Sprintf("token-%d", n))
		w.WriteHeader(http.StatusCreated)
		resp := map[string]any{"token": map[string]any{
			"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSessionCachesTokenUntilInvalidated(t *testing.T) {
	var authCalls atomic.Int32
	server := newAuthServer(t, &authCalls)

	session := NewSession(Config{
		AuthURL:           server.URL,
		Username:          "admin",
		Password:          "secret",
		ProjectName:       "admin",
		UserDomainName:    "Default",
		ProjectDomainName: "Default",
	}, server.Client())

	ctx := context.Background()
	token, err := session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	// Second call reuses the cached token.
	token, err = session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, int32(1), authCalls.Load())

	session.Invalidate()
	token, err = session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
}

func TestSessionAuthRejectionIsPermanent(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	session := NewSession(Config{AuthURL: server.URL}, server.Client())
	_, err := session.Token(context.Background())
	assert.Error(t, err)
	// Credential rejections are not retried.
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSessionCacheEvictInvalidates(t *testing.T) {
	var authCalls atomic.Int32
	server := newAuthServer(t, &authCalls)

	cache := NewSessionCache(8)
	create := func() *Session {
		return NewSession(Config{AuthURL: server.URL}, server.Client())
	}

	first := cache.GetOrCreate("subcloud1", create)
	assert.Same(t, first, cache.GetOrCreate("subcloud1", create))

	_, err := first.Token(context.Background())
	require.NoError(t, err)

	cache.Evict("subcloud1")
	rebuilt := cache.GetOrCreate("subcloud1", create)
	assert.NotSame(t, first, rebuilt)

	// The evicted session lost its token too.
	_, err = first.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), authCalls.Load())
}

type fixedTokens struct{}

func (fixedTokens) Token(ctx context.Context) (string, error) { return "fixed", nil }
func (fixedTokens) Invalidate()                               {}

func TestFindProjectByName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects", r.URL.Path)
		assert.Equal(t, "svc", r.URL.Query().Get("name"))
		assert.Equal(t, "default", r.URL.Query().Get("domain_id"))
		assert.Equal(t, "fixed", r.Header.Get("X-Auth-Token"))
		resp := map[string][]Ref{"projects": {{ID: "p-7", Name: "svc", DomainID: "default"}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, fixedTokens{}, server.Client())
	ref, err := client.FindProjectByName(context.Background(), "svc", "default")
	require.NoError(t, err)
	assert.Equal(t, "p-7", ref.ID)
}

func TestFindRoleByNameNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string][]Ref{"roles": {}}))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, fixedTokens{}, server.Client())
	_, err := client.FindRoleByName(context.Background(), "ghost")
	assert.ErrorIs(t, err, dbsync.ErrNotFound)
}

func TestGrantAndRevokeProjectRole(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		assert.Equal(t, "/projects/p-1/users/u-1/roles/r-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, fixedTokens{}, server.Client())
	assert.NoError(t, client.GrantProjectRole(context.Background(), "p-1", "u-1", "r-1"))
	assert.NoError(t, client.RevokeProjectRole(context.Background(), "p-1", "u-1", "r-1"))
	assert.Equal(t, []string{"PUT", "DELETE"}, methods)
}

func TestPatchUserBody(t *testing.T) {
	var got map[string]map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		assert.Equal(t, "/users/u-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, fixedTokens{}, server.Client())
	err := client.PatchUser(context.Background(), "u-1", map[string]any{"enabled": false})
	require.NoError(t, err)
	assert.Equal(t, false, got["user"]["enabled"])
}
