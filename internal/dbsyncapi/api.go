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

// Package dbsyncapi serves the replication protocol over the identity
// backend: consolidated users, projects, roles, role assignments and
// token revocation events, addressed by master-side identifiers.
package dbsyncapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Azure/DCS-IdentitySync/internal/keystonedb"
)

const (
	PathSegmentResourceID   = "id"
	PathSegmentRef          = "ref"
	PathSegmentAuditID      = "audit_id"
	PathSegmentUserID       = "user_id"
	PathSegmentIssuedBefore = "issued_before"

	// endOfPath is the ServeMux anchor matching collection URLs exactly,
	// trailing slash included.
	endOfPath = "{$}"
)

// MuxPattern forms a URL pattern suitable for passing to http.ServeMux.
func MuxPattern(method string, segments ...string) string {
	return fmt.Sprintf("%s /%s", method, path.Join(segments...))
}

// API is the replication façade one subcloud serves to the system
// controller's sync engine.
type API struct {
	logger   *slog.Logger
	listener net.Listener
	server   http.Server
	store    keystonedb.Store
}

func NewAPI(logger *slog.Logger, listener net.Listener, store keystonedb.Store) *API {
	a := &API{
		logger:   logger,
		listener: listener,
		store:    store,
		server: http.Server{
			ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
			BaseContext: func(net.Listener) context.Context {
				return ContextWithLogger(context.Background(), logger)
			},
		},
	}

	mux := NewMiddlewareMux(
		MiddlewarePanic,
		MiddlewareLogging,
		MiddlewareBody,
	)

	// Unauthenticated routes
	mux.HandleFunc(MuxPattern(http.MethodGet, "healthz"), a.Healthz)
	mux.Handle(MuxPattern(http.MethodGet, "metrics"), promhttp.Handler())

	// Authenticated routes
	authed := NewMiddleware(MiddlewareAuth)
	handle := func(pattern string, handler func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, authed.HandlerFunc(handler))
	}

	idSegment := "{" + PathSegmentResourceID + "}"

	handle(MuxPattern(http.MethodGet, "identity", "users", endOfPath), a.UserList)
	handle(MuxPattern(http.MethodPost, "identity", "users", endOfPath), a.UserCreate)
	handle(MuxPattern(http.MethodGet, "identity", "users", idSegment), a.UserGet)
	handle(MuxPattern(http.MethodPut, "identity", "users", idSegment), a.UserUpdate)
	handle(MuxPattern(http.MethodDelete, "identity", "users", idSegment), a.UserDelete)

	handle(MuxPattern(http.MethodGet, "identity", "projects", endOfPath), a.ProjectList)
	handle(MuxPattern(http.MethodPost, "identity", "projects", endOfPath), a.ProjectCreate)
	handle(MuxPattern(http.MethodGet, "identity", "projects", idSegment), a.ProjectGet)
	handle(MuxPattern(http.MethodPut, "identity", "projects", idSegment), a.ProjectUpdate)
	handle(MuxPattern(http.MethodDelete, "identity", "projects", idSegment), a.ProjectDelete)

	handle(MuxPattern(http.MethodGet, "identity", "roles", endOfPath), a.RoleList)
	handle(MuxPattern(http.MethodPost, "identity", "roles", endOfPath), a.RoleCreate)
	handle(MuxPattern(http.MethodGet, "identity", "roles", idSegment), a.RoleGet)
	handle(MuxPattern(http.MethodPut, "identity", "roles", idSegment), a.RoleUpdate)
	handle(MuxPattern(http.MethodDelete, "identity", "roles", idSegment), a.RoleDelete)

	refSegment := "{" + PathSegmentRef + "}"
	handle(MuxPattern(http.MethodGet, "identity", "assignments", endOfPath), a.AssignmentList)
	handle(MuxPattern(http.MethodPost, "identity", "assignments", endOfPath), a.AssignmentCreate)
	handle(MuxPattern(http.MethodGet, "identity", "assignments", refSegment), a.AssignmentGet)

	auditSegment := "{" + PathSegmentAuditID + "}"
	userRevoke := []string{
		"identity", "revoke_events", "users",
		"{" + PathSegmentUserID + "}", "{" + PathSegmentIssuedBefore + "}",
	}
	handle(MuxPattern(http.MethodGet, "identity", "revoke_events", endOfPath), a.RevokeEventList)
	handle(MuxPattern(http.MethodPost, "identity", "revoke_events", endOfPath), a.RevokeEventCreate)
	handle(MuxPattern(http.MethodGet, "identity", "revoke_events", auditSegment), a.RevokeEventGet)
	handle(MuxPattern(http.MethodDelete, "identity", "revoke_events", auditSegment), a.RevokeEventDelete)
	handle(MuxPattern(http.MethodGet, userRevoke...), a.UserRevokeEventGet)
	handle(MuxPattern(http.MethodDelete, userRevoke...), a.UserRevokeEventDelete)

	a.server.Handler = mux
	return a
}

// Run serves until the context is canceled, then drains in-flight
// requests.
func (a *API) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.Serve(a.listener)
	}()

	a.logger.Info("replication API listening", "address", a.listener.Addr().String())

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return a.server.Close()
	}
	return nil
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.store.ConnectionTest(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "database unreachable")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeStoreError translates store sentinels to protocol status codes.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, keystonedb.ErrNotFound):
		writeError(w, http.StatusNotFound, "no such record")
	case errors.Is(err, keystonedb.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		LoggerFromContext(r.Context()).Error(err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody unmarshals the captured request body, answering 400 on an
// empty or undecodable payload. The boolean reports whether the caller
// may proceed.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := BodyFromContext(r.Context())
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
