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

package keystone

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
)

// Ref is an identity API record reference: enough to address a user,
// project or role on the cloud that answered the lookup.
type Ref struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DomainID string `json:"domain_id"`
}

// ClientSpec is the slice of the identity API the engine needs:
// name-based lookups for assignment resolution, role grant and
// revocation, and partial user updates. Everything else rides the
// replication protocol.
type ClientSpec interface {
	// FindUserByName sends a GET request looking a user up by name
	// within a domain.
	FindUserByName(ctx context.Context, name, domainID string) (*Ref, error)

	// FindProjectByName sends a GET request looking a project up by
	// name within a domain.
	FindProjectByName(ctx context.Context, name, domainID string) (*Ref, error)

	// FindRoleByName sends a GET request looking a role up by name.
	FindRoleByName(ctx context.Context, name string) (*Ref, error)

	// PatchUser sends a PATCH request applying a partial field update
	// to a user.
	PatchUser(ctx context.Context, id string, fields map[string]any) error

	// GrantProjectRole sends a PUT request granting a role to a user on
	// a project.
	GrantProjectRole(ctx context.Context, projectID, userID, roleID string) error

	// RevokeProjectRole sends a DELETE request revoking a role from a
	// user on a project.
	RevokeProjectRole(ctx context.Context, projectID, userID, roleID string) error
}

type client struct {
	endpoint   string
	httpClient *http.Client
	tokens     dbsync.TokenProvider
}

// NewClient returns an identity API client for one cloud. Errors use
// the replication taxonomy so callers handle both clients uniformly.
func NewClient(endpoint string, tokens dbsync.TokenProvider, httpClient *http.Client) ClientSpec {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: httpClient,
		tokens:     tokens,
	}
}

func (c *client) do(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: op, Message: err.Error()}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return &dbsync.Error{Kind: dbsync.KindInternal, Op: op, Message: err.Error()}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &dbsync.Error{Kind: dbsync.KindUnauthorized, Op: op, Message: err.Error()}
	}
	req.Header.Set("X-Auth-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dbsync.TransportError(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return dbsync.TransportError(op, err)
	}
	if resp.StatusCode >= 400 {
		return dbsync.MapHTTPError(op, resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &dbsync.Error{Kind: dbsync.KindInternal, Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return nil
}

// findByName runs a filtered collection GET and unwraps the single
// expected match.
func (c *client) findByName(ctx context.Context, op, collection string, query url.Values) (*Ref, error) {
	var out map[string][]Ref
	if err := c.do(ctx, op, http.MethodGet, "/"+collection+"?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	matches := out[collection]
	if len(matches) == 0 {
		return nil, &dbsync.Error{
			Kind:       dbsync.KindNotFound,
			Op:         op,
			StatusCode: http.StatusNotFound,
			Message:    "no match for " + query.Get("name"),
		}
	}
	ref := matches[0]
	return &ref, nil
}

func (c *client) FindUserByName(ctx context.Context, name, domainID string) (*Ref, error) {
	query := url.Values{"name": {name}}
	if domainID != "" {
		query.Set("domain_id", domainID)
	}
	return c.findByName(ctx, "FindUserByName", "users", query)
}

func (c *client) FindProjectByName(ctx context.Context, name, domainID string) (*Ref, error) {
	query := url.Values{"name": {name}}
	if domainID != "" {
		query.Set("domain_id", domainID)
	}
	return c.findByName(ctx, "FindProjectByName", "projects", query)
}

func (c *client) FindRoleByName(ctx context.Context, name string) (*Ref, error) {
	return c.findByName(ctx, "FindRoleByName", "roles", url.Values{"name": {name}})
}

func (c *client) PatchUser(ctx context.Context, id string, fields map[string]any) error {
	body := map[string]any{"user": fields}
	return c.do(ctx, "PatchUser", http.MethodPatch, "/users/"+url.PathEscape(id), body, nil)
}

func (c *client) GrantProjectRole(ctx context.Context, projectID, userID, roleID string) error {
	return c.do(ctx, "GrantProjectRole", http.MethodPut, grantPath(projectID, userID, roleID), nil, nil)
}

func (c *client) RevokeProjectRole(ctx context.Context, projectID, userID, roleID string) error {
	return c.do(ctx, "RevokeProjectRole", http.MethodDelete, grantPath(projectID, userID, roleID), nil, nil)
}

func grantPath(projectID, userID, roleID string) string {
	return "/projects/" + url.PathEscape(projectID) +
		"/users/" + url.PathEscape(userID) +
		"/roles/" + url.PathEscape(roleID)
}
