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

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

func (a *API) RevokeEventList(w http.ResponseWriter, r *http.Request) {
	events, err := a.store.RevokeEventGetAll(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) RevokeEventGet(w http.ResponseWriter, r *http.Request) {
	event, err := a.store.RevokeEventGetByAudit(r.Context(), r.PathValue(PathSegmentAuditID))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (a *API) RevokeEventCreate(w http.ResponseWriter, r *http.Request) {
	var event records.RevocationEvent
	if !decodeBody(w, r, &event) {
		return
	}
	if event.IssuedBefore == "" {
		writeError(w, http.StatusBadRequest, "revocation event issued_before is required")
		return
	}

	if err := a.store.RevokeEventCreate(r.Context(), event); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (a *API) RevokeEventDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.RevokeEventDeleteByAudit(r.Context(), r.PathValue(PathSegmentAuditID)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) UserRevokeEventGet(w http.ResponseWriter, r *http.Request) {
	event, err := a.store.RevokeEventGetByUser(r.Context(),
		r.PathValue(PathSegmentUserID), r.PathValue(PathSegmentIssuedBefore))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (a *API) UserRevokeEventDelete(w http.ResponseWriter, r *http.Request) {
	err := a.store.RevokeEventDeleteByUser(r.Context(),
		r.PathValue(PathSegmentUserID), r.PathValue(PathSegmentIssuedBefore))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
