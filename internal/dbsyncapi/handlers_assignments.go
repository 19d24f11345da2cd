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

func (a *API) AssignmentList(w http.ResponseWriter, r *http.Request) {
	assignments, err := a.store.AssignmentGetAll(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

func (a *API) AssignmentGet(w http.ResponseWriter, r *http.Request) {
	// A malformed reference names nothing, which on this API is a 404
	// rather than a 400.
	target, actor, role, err := records.ParseAssignmentID(r.PathValue(PathSegmentRef))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	assignment, err := a.store.AssignmentGet(r.Context(), target, actor, role)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (a *API) AssignmentCreate(w http.ResponseWriter, r *http.Request) {
	var assignment records.Assignment
	if !decodeBody(w, r, &assignment) {
		return
	}
	if assignment.ActorID == "" || assignment.TargetID == "" || assignment.RoleID == "" {
		writeError(w, http.StatusBadRequest, "assignment actor, target and role are required")
		return
	}

	if err := a.store.AssignmentCreate(r.Context(), assignment); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}
