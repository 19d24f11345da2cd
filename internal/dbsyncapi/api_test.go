package dbsyncapi

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/keystonedb"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

func newTestServer(t *testing.T) (*httptest.Server, *keystonedb.MemStore) {
	t.Helper()
	store := keystonedb.NewMemStore()
	api := NewAPI(slog.Default(), nil, store)
	server := httptest.NewServer(api.server.Handler)
	t.Cleanup(server.Close)
	return server, store
}

func doRequest(t *testing.T, server *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", "test-token")

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := server.Client().Get(server.URL + "/identity/users/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthzNeedsNoToken(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := server.Client().Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUserCreateRequiresLocalUserName(t *testing.T) {
	server, _ := newTestServer(t)

	doc := records.UserDocument{User: records.UserRow{ID: "u-1", DomainID: "default"}}
	resp := doRequest(t, server, http.MethodPost, "/identity/users/", doc)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmptyBodyIsBadRequest(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodPost, "/identity/projects/", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMalformedAssignmentRefIsNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodGet, "/identity/assignments/only-one-part", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectCreateConflict(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.ProjectCreate(context.Background(), records.Project{
		ID: "p-1", Name: "svc", DomainID: "default",
	}))

	resp := doRequest(t, server, http.MethodPost, "/identity/projects/",
		records.Project{ID: "p-1", Name: "svc", DomainID: "default"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRoleLifecycle(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodPost, "/identity/roles/",
		records.Role{ID: "r-1", Name: "member"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created records.Role
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	// Domain-agnostic roles come back carrying the sentinel.
	assert.Equal(t, records.NullDomainID, created.DomainID)

	resp = doRequest(t, server, http.MethodPut, "/identity/roles/r-1",
		records.Role{ID: "r-1", Name: "renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, server, http.MethodDelete, "/identity/roles/r-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, server, http.MethodGet, "/identity/roles/r-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type serverTokens struct{}

func (serverTokens) Token(ctx context.Context) (string, error) { return "engine-token", nil }
func (serverTokens) Invalidate()                               {}

// The replication client and the façade speak the same protocol end to
// end: consolidated user documents, synthetic assignment references and
// user-scoped revocation selectors.
func TestClientAgainstServer(t *testing.T) {
	server, _ := newTestServer(t)
	client := dbsync.NewClient(server.URL, serverTokens{}, server.Client())
	ctx := context.Background()

	user := records.User{
		ID:       "u-1",
		DomainID: "default",
		Enabled:  true,
		LocalUser: records.LocalUser{
			DomainID: "default",
			Name:     "operator",
			Passwords: []records.Password{
				{PasswordHash: "$2b$hash", CreatedAtInt: 1700000000},
			},
		},
	}
	created, err := client.CreateUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "operator", created.Name)
	require.Len(t, created.LocalUser.Passwords, 1)

	fetched, err := client.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "operator", fetched.LocalUser.Name)

	_, err = client.CreateAssignment(ctx, records.Assignment{
		Type: records.AssignmentUserProject, ActorID: "u-1", TargetID: "p-1", RoleID: "r-1",
	})
	require.NoError(t, err)

	assignment, err := client.GetAssignment(ctx, "p-1_u-1_r-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", assignment.ActorID)

	event := records.RevocationEvent{UserID: "u-1", IssuedBefore: "2026-08-26T10:00:00Z"}
	_, err = client.CreateRevokeEvent(ctx, event)
	require.NoError(t, err)

	got, err := client.GetUserRevokeEvent(ctx, "u-1", "2026-08-26T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)

	require.NoError(t, client.DeleteUserRevokeEvent(ctx, "u-1", "2026-08-26T10:00:00Z"))
	// Deleting again is NotFound on the wire, success at the client.
	require.NoError(t, client.DeleteUserRevokeEvent(ctx, "u-1", "2026-08-26T10:00:00Z"))

	_, err = client.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, dbsync.ErrNotFound)
}
