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
	"net/http"
)

// MiddlewareAuth rejects requests that carry no identity token. Token
// validation itself belongs to the identity service; an absent header
// is always a caller bug and answering 401 lets it refresh its session.
func MiddlewareAuth(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if r.Header.Get("X-Auth-Token") == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	next(w, r)
}
