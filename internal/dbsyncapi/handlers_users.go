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

func (a *API) UserList(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.UserGetAll(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	docs := make([]records.UserDocument, 0, len(users))
	for _, user := range users {
		docs = append(docs, records.NewUserDocument(user))
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *API) UserGet(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.UserGet(r.Context(), r.PathValue(PathSegmentResourceID))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records.NewUserDocument(*user))
}

func (a *API) UserCreate(w http.ResponseWriter, r *http.Request) {
	var doc records.UserDocument
	if !decodeBody(w, r, &doc) {
		return
	}
	if doc.User.ID == "" || doc.LocalUser.Name == "" {
		writeError(w, http.StatusBadRequest, "user id and local_user name are required")
		return
	}

	if err := a.store.UserCreate(r.Context(), doc.ToUser()); err != nil {
		writeStoreError(w, r, err)
		return
	}

	created, err := a.store.UserGet(r.Context(), doc.User.ID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, records.NewUserDocument(*created))
}

func (a *API) UserUpdate(w http.ResponseWriter, r *http.Request) {
	var doc records.UserDocument
	if !decodeBody(w, r, &doc) {
		return
	}

	id := r.PathValue(PathSegmentResourceID)
	if err := a.store.UserUpdate(r.Context(), id, doc.ToUser()); err != nil {
		writeStoreError(w, r, err)
		return
	}

	newID := doc.User.ID
	if newID == "" {
		newID = id
	}
	updated, err := a.store.UserGet(r.Context(), newID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records.NewUserDocument(*updated))
}

func (a *API) UserDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.UserDelete(r.Context(), r.PathValue(PathSegmentResourceID)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
