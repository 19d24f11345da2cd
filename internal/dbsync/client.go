// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dbsync is the typed client for the database replication
// protocol. It ships backend identity records between clouds so that
// primary keys survive replication; role assignments depend on that.
package dbsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// TokenProvider supplies the authentication token attached to every
// request and discards it when the server rejects it.
type TokenProvider interface {
	// Token returns a valid token, authenticating first if needed.
	Token(ctx context.Context) (string, error)

	// Invalidate discards the cached token so the next Token call
	// authenticates from scratch.
	Invalidate()
}

type ClientSpec interface {
	// ListUsers sends a GET request for every user record.
	ListUsers(ctx context.Context) ([]records.User, error)

	// GetUser sends a GET request for one user record by ID.
	GetUser(ctx context.Context, id string) (*records.User, error)

	// CreateUser sends a POST request inserting a user record under its
	// original ID.
	CreateUser(ctx context.Context, user records.User) (*records.User, error)

	// UpdateUser sends a PUT request replacing the user record stored
	// under id.
	UpdateUser(ctx context.Context, id string, user records.User) (*records.User, error)

	// DeleteUser sends a DELETE request for one user record. An absent
	// record is success.
	DeleteUser(ctx context.Context, id string) error

	// ListProjects sends a GET request for every project record.
	ListProjects(ctx context.Context) ([]records.Project, error)

	// GetProject sends a GET request for one project record by ID.
	GetProject(ctx context.Context, id string) (*records.Project, error)

	// CreateProject sends a POST request inserting a project record
	// under its original ID.
	CreateProject(ctx context.Context, project records.Project) (*records.Project, error)

	// UpdateProject sends a PUT request replacing the project record
	// stored under id.
	UpdateProject(ctx context.Context, id string, project records.Project) (*records.Project, error)

	// DeleteProject sends a DELETE request for one project record. An
	// absent record is success.
	DeleteProject(ctx context.Context, id string) error

	// ListRoles sends a GET request for every role record.
	ListRoles(ctx context.Context) ([]records.Role, error)

	// GetRole sends a GET request for one role record by ID.
	GetRole(ctx context.Context, id string) (*records.Role, error)

	// CreateRole sends a POST request inserting a role record under its
	// original ID.
	CreateRole(ctx context.Context, role records.Role) (*records.Role, error)

	// UpdateRole sends a PUT request replacing the role record stored
	// under id.
	UpdateRole(ctx context.Context, id string, role records.Role) (*records.Role, error)

	// DeleteRole sends a DELETE request for one role record. An absent
	// record is success.
	DeleteRole(ctx context.Context, id string) error

	// ListAssignments sends a GET request for every role assignment.
	ListAssignments(ctx context.Context) ([]records.Assignment, error)

	// GetAssignment sends a GET request for one assignment addressed by
	// its target_actor_role reference.
	GetAssignment(ctx context.Context, ref string) (*records.Assignment, error)

	// CreateAssignment sends a POST request inserting an assignment.
	CreateAssignment(ctx context.Context, assignment records.Assignment) (*records.Assignment, error)

	// ListRevokeEvents sends a GET request for every revocation event.
	ListRevokeEvents(ctx context.Context) ([]records.RevocationEvent, error)

	// GetRevokeEvent sends a GET request for one audit-scoped
	// revocation event.
	GetRevokeEvent(ctx context.Context, auditID string) (*records.RevocationEvent, error)

	// GetUserRevokeEvent sends a GET request for one user-scoped
	// revocation event.
	GetUserRevokeEvent(ctx context.Context, userID, issuedBefore string) (*records.RevocationEvent, error)

	// CreateRevokeEvent sends a POST request inserting a revocation
	// event.
	CreateRevokeEvent(ctx context.Context, event records.RevocationEvent) (*records.RevocationEvent, error)

	// DeleteRevokeEvent sends a DELETE request for one audit-scoped
	// revocation event. An absent event is success.
	DeleteRevokeEvent(ctx context.Context, auditID string) error

	// DeleteUserRevokeEvent sends a DELETE request for one user-scoped
	// revocation event. An absent event is success.
	DeleteUserRevokeEvent(ctx context.Context, userID, issuedBefore string) error
}

type client struct {
	endpoint   string
	httpClient *http.Client
	tokens     TokenProvider
	breaker    *gobreaker.CircuitBreaker
}

// NewClient returns a replication client for one cloud's dbsync
// endpoint. A nil httpClient gets a default with tracing and a request
// timeout. The circuit breaker opens after repeated connection
// failures so an offline subcloud fails fast instead of burning the
// full timeout on every queued item.
func NewClient(endpoint string, tokens TokenProvider, httpClient *http.Client) ClientSpec {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: endpoint,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return !IsKind(err, KindUnreachable)
		},
		Timeout: 30 * time.Second,
	})
	return &client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		breaker:    breaker,
	}
}

// RetryableTransportSchedule is the backoff schedule callers use when
// the remote side is unreachable: 30 seconds doubling up to 15
// minutes, retrying until the caller stops.
func RetryableTransportSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.MaxInterval = 15 * time.Minute
	b.MaxElapsedTime = 0
	return b
}

func (c *client) do(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindBadRequest, Op: op, cause: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return &Error{Kind: KindInternal, Op: op, cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &Error{Kind: KindUnauthorized, Op: op, cause: err}
	}
	req.Header.Set("X-Auth-Token", token)

	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, TransportError(op, err)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return TransportError(op, err)
		}
		return err
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return TransportError(op, err)
	}

	if resp.StatusCode >= 400 {
		return MapHTTPError(op, resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return EmptyResponseError(op, resp.StatusCode)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Kind: KindInternal, Op: op, StatusCode: resp.StatusCode, cause: err}
	}
	return nil
}

// delete issues a DELETE and swallows NotFound: an already absent
// record satisfies the caller's intent.
func (c *client) delete(ctx context.Context, op, path string) error {
	err := c.do(ctx, op, http.MethodDelete, path, nil, nil)
	if IsKind(err, KindNotFound) {
		return nil
	}
	return err
}

func listRecords[T any](ctx context.Context, c *client, op, path string) ([]T, error) {
	var out []T
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func getRecord[T any](ctx context.Context, c *client, op, path string) (*T, error) {
	var out T
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func pushRecord[T any](ctx context.Context, c *client, op, method, path string, in any) (*T, error) {
	var out T
	if err := c.do(ctx, op, method, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) ListUsers(ctx context.Context) ([]records.User, error) {
	docs, err := listRecords[records.UserDocument](ctx, c, "ListUsers", "/identity/users/")
	if err != nil {
		return nil, err
	}
	users := make([]records.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.ToUser())
	}
	return users, nil
}

func (c *client) GetUser(ctx context.Context, id string) (*records.User, error) {
	doc, err := getRecord[records.UserDocument](ctx, c, "GetUser", "/identity/users/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	user := doc.ToUser()
	return &user, nil
}

func (c *client) CreateUser(ctx context.Context, user records.User) (*records.User, error) {
	doc, err := pushRecord[records.UserDocument](ctx, c, "CreateUser", http.MethodPost, "/identity/users/", records.NewUserDocument(user))
	if err != nil {
		return nil, err
	}
	created := doc.ToUser()
	return &created, nil
}

func (c *client) UpdateUser(ctx context.Context, id string, user records.User) (*records.User, error) {
	doc, err := pushRecord[records.UserDocument](ctx, c, "UpdateUser", http.MethodPut, "/identity/users/"+url.PathEscape(id), records.NewUserDocument(user))
	if err != nil {
		return nil, err
	}
	updated := doc.ToUser()
	return &updated, nil
}

func (c *client) DeleteUser(ctx context.Context, id string) error {
	return c.delete(ctx, "DeleteUser", "/identity/users/"+url.PathEscape(id))
}

func (c *client) ListProjects(ctx context.Context) ([]records.Project, error) {
	return listRecords[records.Project](ctx, c, "ListProjects", "/identity/projects/")
}

func (c *client) GetProject(ctx context.Context, id string) (*records.Project, error) {
	return getRecord[records.Project](ctx, c, "GetProject", "/identity/projects/"+url.PathEscape(id))
}

func (c *client) CreateProject(ctx context.Context, project records.Project) (*records.Project, error) {
	return pushRecord[records.Project](ctx, c, "CreateProject", http.MethodPost, "/identity/projects/", project)
}

func (c *client) UpdateProject(ctx context.Context, id string, project records.Project) (*records.Project, error) {
	return pushRecord[records.Project](ctx, c, "UpdateProject", http.MethodPut, "/identity/projects/"+url.PathEscape(id), project)
}

func (c *client) DeleteProject(ctx context.Context, id string) error {
	return c.delete(ctx, "DeleteProject", "/identity/projects/"+url.PathEscape(id))
}

func (c *client) ListRoles(ctx context.Context) ([]records.Role, error) {
	return listRecords[records.Role](ctx, c, "ListRoles", "/identity/roles/")
}

func (c *client) GetRole(ctx context.Context, id string) (*records.Role, error) {
	return getRecord[records.Role](ctx, c, "GetRole", "/identity/roles/"+url.PathEscape(id))
}

func (c *client) CreateRole(ctx context.Context, role records.Role) (*records.Role, error) {
	return pushRecord[records.Role](ctx, c, "CreateRole", http.MethodPost, "/identity/roles/", role)
}

func (c *client) UpdateRole(ctx context.Context, id string, role records.Role) (*records.Role, error) {
	return pushRecord[records.Role](ctx, c, "UpdateRole", http.MethodPut, "/identity/roles/"+url.PathEscape(id), role)
}

func (c *client) DeleteRole(ctx context.Context, id string) error {
	return c.delete(ctx, "DeleteRole", "/identity/roles/"+url.PathEscape(id))
}

func (c *client) ListAssignments(ctx context.Context) ([]records.Assignment, error) {
	return listRecords[records.Assignment](ctx, c, "ListAssignments", "/identity/assignments/")
}

func (c *client) GetAssignment(ctx context.Context, ref string) (*records.Assignment, error) {
	return getRecord[records.Assignment](ctx, c, "GetAssignment", "/identity/assignments/"+url.PathEscape(ref))
}

func (c *client) CreateAssignment(ctx context.Context, assignment records.Assignment) (*records.Assignment, error) {
	return pushRecord[records.Assignment](ctx, c, "CreateAssignment", http.MethodPost, "/identity/assignments/", assignment)
}

func (c *client) ListRevokeEvents(ctx context.Context) ([]records.RevocationEvent, error) {
	return listRecords[records.RevocationEvent](ctx, c, "ListRevokeEvents", "/identity/revoke_events/")
}

func (c *client) GetRevokeEvent(ctx context.Context, auditID string) (*records.RevocationEvent, error) {
	return getRecord[records.RevocationEvent](ctx, c, "GetRevokeEvent", "/identity/revoke_events/"+url.PathEscape(auditID))
}

func (c *client) GetUserRevokeEvent(ctx context.Context, userID, issuedBefore string) (*records.RevocationEvent, error) {
	return getRecord[records.RevocationEvent](ctx, c, "GetUserRevokeEvent", userRevokePath(userID, issuedBefore))
}

func (c *client) CreateRevokeEvent(ctx context.Context, event records.RevocationEvent) (*records.RevocationEvent, error) {
	return pushRecord[records.RevocationEvent](ctx, c, "CreateRevokeEvent", http.MethodPost, "/identity/revoke_events/", event)
}

func (c *client) DeleteRevokeEvent(ctx context.Context, auditID string) error {
	return c.delete(ctx, "DeleteRevokeEvent", "/identity/revoke_events/"+url.PathEscape(auditID))
}

func (c *client) DeleteUserRevokeEvent(ctx context.Context, userID, issuedBefore string) error {
	return c.delete(ctx, "DeleteUserRevokeEvent", userRevokePath(userID, issuedBefore))
}

func userRevokePath(userID, issuedBefore string) string {
	return fmt.Sprintf("/identity/revoke_events/users/%s/%s", url.PathEscape(userID), url.PathEscape(issuedBefore))
}
