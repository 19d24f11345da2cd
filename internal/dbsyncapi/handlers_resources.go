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

// Projects and roles travel as-is on the wire, so their handlers
// reduce to plumbing between the body, the path and the store.

func (a *API) ProjectList(w http.ResponseWriter, r *http.Request) {
	projects, err := a.store.ProjectGetAll(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (a *API) ProjectGet(w http.ResponseWriter, r *http.Request) {
	project, err := a.store.ProjectGet(r.Context(), r.PathValue(PathSegmentResourceID))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (a *API) ProjectCreate(w http.ResponseWriter, r *http.Request) {
	var project records.Project
	if !decodeBody(w, r, &project) {
		return
	}
	if project.ID == "" || project.Name == "" {
		writeError(w, http.StatusBadRequest, "project id and name are required")
		return
	}

	if err := a.store.ProjectCreate(r.Context(), project); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (a *API) ProjectUpdate(w http.ResponseWriter, r *http.Request) {
	var project records.Project
	if !decodeBody(w, r, &project) {
		return
	}

	id := r.PathValue(PathSegmentResourceID)
	if err := a.store.ProjectUpdate(r.Context(), id, project); err != nil {
		writeStoreError(w, r, err)
		return
	}
	if project.ID == "" {
		project.ID = id
	}
	writeJSON(w, http.StatusOK, project)
}

func (a *API) ProjectDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.ProjectDelete(r.Context(), r.PathValue(PathSegmentResourceID)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) RoleList(w http.ResponseWriter, r *http.Request) {
	roles, err := a.store.RoleGetAll(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) RoleGet(w http.ResponseWriter, r *http.Request) {
	role, err := a.store.RoleGet(r.Context(), r.PathValue(PathSegmentResourceID))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) RoleCreate(w http.ResponseWriter, r *http.Request) {
	var role records.Role
	if !decodeBody(w, r, &role) {
		return
	}
	if role.ID == "" || role.Name == "" {
		writeError(w, http.StatusBadRequest, "role id and name are required")
		return
	}

	if err := a.store.RoleCreate(r.Context(), role); err != nil {
		writeStoreError(w, r, err)
		return
	}
	created, err := a.store.RoleGet(r.Context(), role.ID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) RoleUpdate(w http.ResponseWriter, r *http.Request) {
	var role records.Role
	if !decodeBody(w, r, &role) {
		return
	}

	id := r.PathValue(PathSegmentResourceID)
	if err := a.store.RoleUpdate(r.Context(), id, role); err != nil {
		writeStoreError(w, r, err)
		return
	}
	newID := role.ID
	if newID == "" {
		newID = id
	}
	updated, err := a.store.RoleGet(r.Context(), newID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) RoleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.RoleDelete(r.Context(), r.PathValue(PathSegmentResourceID)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
