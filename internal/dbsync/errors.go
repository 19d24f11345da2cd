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

package dbsync

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a replication failure for the sync loop's retry
// policy. The disposition per kind is fixed: Unauthorized refreshes
// the session and retries once, Unreachable backs off, NotFound on
// delete is success, Conflict adopts the existing record, everything
// else fails the work item.
type Kind string

const (
	KindUnauthorized  Kind = "unauthorized"
	KindUnreachable   Kind = "unreachable"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindEmptyResponse Kind = "empty_response"
	KindBadRequest    Kind = "bad_request"
	KindInternal      Kind = "internal"
)

// Kind sentinels for errors.Is. A mapped *Error matches the sentinel
// of its kind regardless of operation or status code.
var (
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
	ErrUnreachable   = &Error{Kind: KindUnreachable}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrEmptyResponse = &Error{Kind: KindEmptyResponse}
	ErrBadRequest    = &Error{Kind: KindBadRequest}
	ErrInternal      = &Error{Kind: KindInternal}
)

// Error is a classified replication or identity API failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	switch {
	case e.Op == "":
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (http %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches the bare kind sentinels above.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.StatusCode == 0
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// MapHTTPError translates a non-2xx response into a classified error.
// Shared with the identity and platform clients so every remote call
// the engine makes speaks the same taxonomy.
func MapHTTPError(op string, statusCode int, body []byte) *Error {
	var kind Kind
	switch {
	case statusCode == http.StatusUnauthorized:
		kind = KindUnauthorized
	case statusCode == http.StatusNotFound:
		kind = KindNotFound
	case statusCode == http.StatusConflict:
		kind = KindConflict
	case statusCode == http.StatusBadRequest:
		kind = KindBadRequest
	case statusCode == http.StatusServiceUnavailable, statusCode == http.StatusGatewayTimeout:
		kind = KindUnreachable
	default:
		kind = KindInternal
	}
	return &Error{
		Kind:       kind,
		Op:         op,
		StatusCode: statusCode,
		Message:    string(body),
	}
}

// TransportError wraps a failure to reach the server at all.
func TransportError(op string, err error) *Error {
	return &Error{Kind: KindUnreachable, Op: op, cause: err}
}

// EmptyResponseError reports a 2xx response whose body was empty where
// a record was due.
func EmptyResponseError(op string, statusCode int) *Error {
	return &Error{
		Kind:       KindEmptyResponse,
		Op:         op,
		StatusCode: statusCode,
		Message:    "server returned no record",
	}
}
