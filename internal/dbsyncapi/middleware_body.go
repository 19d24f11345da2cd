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

package dbsyncapi

import (
	"io"
	"net/http"
)

const megabyte int64 = (1 << 20)

// MiddlewareBody caps and captures the request body for write methods.
// Replicated records stay small; a password history or key repository
// fits comfortably within the limit.
func MiddlewareBody(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4*megabyte))
		if err != nil {
			writeError(w, http.StatusBadRequest, "request body unreadable or too large")
			return
		}
		r = r.WithContext(ContextWithBody(r.Context(), body))
	}

	next(w, r)
}
