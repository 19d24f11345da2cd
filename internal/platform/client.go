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

// Package platform is the client for a subcloud's platform endpoint,
// the target of fernet key repository distribution.
package platform

//go:generate $MOCKGEN -source=client.go -destination=mock_client.go -package platform ClientSpec

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

type ClientSpec interface {
	// GetKeyRepo sends a GET request for the subcloud's fernet key
	// repository.
	GetKeyRepo(ctx context.Context) (*records.KeyRepo, error)

	// CreateKeyRepo sends a POST request installing the key repository
	// on a subcloud that has none.
	CreateKeyRepo(ctx context.Context, repo records.KeyRepo) error

	// UpdateKeyRepo sends a PUT request replacing the subcloud's key
	// repository.
	UpdateKeyRepo(ctx context.Context, repo records.KeyRepo) error
}

type client struct {
	endpoint   string
	httpClient *http.Client
	tokens     dbsync.TokenProvider
}

// NewClient returns a platform client for one subcloud. Errors use the
// replication taxonomy.
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

func (c *client) do(ctx context.Context, op, method string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: op, Message: err.Error()}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+"/v1/fernet_repo", body)
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
	if len(bytes.TrimSpace(payload)) == 0 {
		return dbsync.EmptyResponseError(op, resp.StatusCode)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &dbsync.Error{Kind: dbsync.KindInternal, Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return nil
}

func (c *client) GetKeyRepo(ctx context.Context) (*records.KeyRepo, error) {
	var repo records.KeyRepo
	if err := c.do(ctx, "GetKeyRepo", http.MethodGet, nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (c *client) CreateKeyRepo(ctx context.Context, repo records.KeyRepo) error {
	return c.do(ctx, "CreateKeyRepo", http.MethodPost, repo, nil)
}

func (c *client) UpdateKeyRepo(ctx context.Context, repo records.KeyRepo) error {
	return c.do(ctx, "UpdateKeyRepo", http.MethodPut, repo, nil)
}
