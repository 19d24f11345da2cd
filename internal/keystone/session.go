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

// Package keystone holds the identity service sessions the engine
// authenticates with and the small identity API client used for the
// operations that do not ride the replication protocol.
package keystone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// expirySlack is subtracted from a token's lifetime so a token about
// to lapse mid-request is refreshed up front.
const expirySlack = time.Minute

// Config carries the password-grant credentials for one cloud's
// identity endpoint.
type Config struct {
	AuthURL           string `json:"auth_url"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	ProjectName       string `json:"project_name"`
	UserDomainName    string `json:"user_domain_name"`
	ProjectDomainName string `json:"project_domain_name"`
}

// Session is a cached authenticated token against one identity
// endpoint. Token re-authenticates on demand; Invalidate forces the
// next call to authenticate from scratch. Safe for concurrent use.
type Session struct {
	config     Config
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSession returns an unauthenticated session; the first Token call
// performs the password grant. A nil httpClient gets a default with
// tracing and a request timeout.
func NewSession(config Config, httpClient *http.Client) *Session {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Session{config: config, httpClient: httpClient}
}

// Token returns a valid token, authenticating first if the cached one
// is absent or about to expire. Transient transport failures during
// authentication are retried briefly.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiresAt.Add(-expirySlack)) {
		return s.token, nil
	}

	bootstrap := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		return s.authenticate(ctx)
	}, bootstrap)
	if err != nil {
		return "", err
	}
	return s.token, nil
}

// Invalidate discards the cached token.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// authTokenRequest is the keystone v3 password grant body.
type authTokenRequest struct {
	Auth struct {
		Identity struct {
			Methods  []string `json:"methods"`
			Password struct {
				User struct {
					Name     string `json:"name"`
					Password string `json:"password"`
					Domain   struct {
						Name string `json:"name"`
					} `json:"domain"`
				} `json:"user"`
			} `json:"password"`
		} `json:"identity"`
		Scope struct {
			Project struct {
				Name   string `json:"name"`
				Domain struct {
					Name string `json:"name"`
				} `json:"domain"`
			} `json:"project"`
		} `json:"scope"`
	} `json:"auth"`
}

type authTokenResponse struct {
	Token struct {
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"token"`
}

func (s *Session) authenticate(ctx context.Context) error {
	var body authTokenRequest
	body.Auth.Identity.Methods = []string{"password"}
	body.Auth.Identity.Password.User.Name = s.config.Username
	body.Auth.Identity.Password.User.Password = s.config.Password
	body.Auth.Identity.Password.User.Domain.Name = s.config.UserDomainName
	body.Auth.Scope.Project.Name = s.config.ProjectName
	body.Auth.Scope.Project.Domain.Name = s.config.ProjectDomainName

	payload, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.AuthURL+"/auth/tokens", bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return backoff.Permanent(fmt.Errorf("authentication against %s failed (http %d): %s", s.config.AuthURL, resp.StatusCode, msg))
	}

	token := resp.Header.Get("X-Subject-Token")
	if token == "" {
		return backoff.Permanent(fmt.Errorf("authentication against %s returned no subject token", s.config.AuthURL))
	}

	var decoded authTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding token response from %s: %w", s.config.AuthURL, err))
	}

	s.token = token
	s.expiresAt = decoded.Token.ExpiresAt
	return nil
}
