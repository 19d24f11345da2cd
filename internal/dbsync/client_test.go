package dbsync

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

type staticTokens struct {
	token       string
	invalidated int
}

func (s *staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }
func (s *staticTokens) Invalidate()                               { s.invalidated++ }

func newTestClient(t *testing.T, handler http.Handler) (ClientSpec, *staticTokens) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tokens := &staticTokens{token: "testtoken"}
	return NewClient(server.URL, tokens, server.Client()), tokens
}

func TestGetUserAssemblesDocument(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/identity/users/u-1", r.URL.Path)
		assert.Equal(t, "testtoken", r.Header.Get("X-Auth-Token"))
		w.Write([]byte(`{
			"user": {"id": "u-1", "domain_id": "default", "enabled": true},
			"local_user": {"user_id": "u-1", "domain_id": "default", "name": "alice"},
			"password": [{"password_hash": "$6$abc"}]
		}`))
	}))

	user, err := client.GetUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "alice", user.LocalUser.Name)
	require.Len(t, user.LocalUser.Passwords, 1)
	assert.Equal(t, "$6$abc", user.LocalUser.Passwords[0].PasswordHash)
}

func TestCreateUserSendsConsolidatedDocument(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/identity/users/", r.URL.Path)

		var doc records.UserDocument
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		assert.Equal(t, "u-2", doc.User.ID)
		assert.Equal(t, "bob", doc.LocalUser.Name)
		assert.Empty(t, doc.LocalUser.Passwords)

		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(doc))
	}))

	user := records.User{
		ID:       "u-2",
		DomainID: "default",
		LocalUser: records.LocalUser{
			UserID:    "u-2",
			DomainID:  "default",
			Name:      "bob",
			Passwords: []records.Password{{PasswordHash: "$6$def"}},
		},
	}
	created, err := client.CreateUser(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "u-2", created.ID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantKind   Kind
	}{
		{name: "unauthorized", statusCode: http.StatusUnauthorized, wantKind: KindUnauthorized},
		{name: "not found", statusCode: http.StatusNotFound, wantKind: KindNotFound},
		{name: "conflict", statusCode: http.StatusConflict, wantKind: KindConflict},
		{name: "bad request", statusCode: http.StatusBadRequest, wantKind: KindBadRequest},
		{name: "server error", statusCode: http.StatusInternalServerError, wantKind: KindInternal},
		{name: "unavailable", statusCode: http.StatusServiceUnavailable, wantKind: KindUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.statusCode)
			}))

			_, err := client.GetProject(context.Background(), "p-1")
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.wantKind), "got %v", err)

			var classified *Error
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, tt.statusCode, classified.StatusCode)
			assert.Equal(t, "GetProject", classified.Op)
		})
	}
}

func TestErrorKindSentinels(t *testing.T) {
	err := MapHTTPError("ListUsers", http.StatusUnauthorized, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	}))

	assert.NoError(t, client.DeleteUser(context.Background(), "u-9"))
	assert.NoError(t, client.DeleteRevokeEvent(context.Background(), "audit-9"))
}

func TestEmptyResponseWhereRecordExpected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	_, err := client.GetRole(context.Background(), "r-1")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestConnectionRefusedIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client := NewClient(endpoint, &staticTokens{token: "t"}, nil)
	_, err := client.ListUsers(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestBreakerOpensAfterConsecutiveConnectionFailures(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client := NewClient(endpoint, &staticTokens{token: "t"}, nil)
	for i := 0; i < 5; i++ {
		_, err := client.ListUsers(context.Background())
		assert.ErrorIs(t, err, ErrUnreachable, "attempt %d", i)
	}
}

func TestUserRevokeEventPathEscaping(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		http.Error(w, "gone already", http.StatusNotFound)
	}))

	err := client.DeleteUserRevokeEvent(context.Background(), "u-1", "2024-05-02T10:11:12Z")
	assert.NoError(t, err)
	assert.Equal(t, "/identity/revoke_events/users/u-1/2024-05-02T10:11:12Z", gotPath)
}

func TestGetAssignmentByReference(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/identity/assignments/p-1_u-1_r-1", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(records.Assignment{
			Type:     records.AssignmentUserProject,
			ActorID:  "u-1",
			TargetID: "p-1",
			RoleID:   "r-1",
		}))
	}))

	assignment, err := client.GetAssignment(context.Background(), "p-1_u-1_r-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1_u-1_r-1", assignment.ID())
}

func TestMockClientErrorInjection(t *testing.T) {
	mock := NewMockClient()
	mock.SeedUser(records.User{ID: "u-1", LocalUser: records.LocalUser{Name: "alice"}})
	mock.FailWith("GetUser", MapHTTPError("GetUser", http.StatusUnauthorized, nil))

	_, err := mock.GetUser(context.Background(), "u-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	user, err := mock.GetUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.LocalUser.Name)

	var notFound *Error
	_, err = mock.GetUser(context.Background(), "u-2")
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, KindNotFound, notFound.Kind)
}
