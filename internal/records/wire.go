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

package records

// The replication wire protocol carries users as a consolidated
// document of the three backend tables rather than the flattened form
// the engine works with. Projects, roles, assignments and revocation
// events travel as-is.

// UserRow is the user table portion of a consolidated user document.
type UserRow struct {
	ID               string         `json:"id"`
	DomainID         string         `json:"domain_id"`
	DefaultProjectID string         `json:"default_project_id,omitempty"`
	Enabled          bool           `json:"enabled"`
	Extra            map[string]any `json:"extra,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty"`
	LastActiveAt     string         `json:"last_active_at,omitempty"`
}

// UserDocument is the consolidated wire form of a user: the user row,
// its local user row and the password history, each under its own key.
type UserDocument struct {
	User      UserRow    `json:"user"`
	LocalUser LocalUser  `json:"local_user"`
	Passwords []Password `json:"password"`
}

// NewUserDocument splits a User into its wire document.
func NewUserDocument(u User) UserDocument {
	local := u.LocalUser
	passwords := local.Passwords
	local.Passwords = nil
	return UserDocument{
		User: UserRow{
			ID:               u.ID,
			DomainID:         u.DomainID,
			DefaultProjectID: u.DefaultProjectID,
			Enabled:          u.Enabled,
			Extra:            u.Extra,
			CreatedAt:        u.CreatedAt,
			LastActiveAt:     u.LastActiveAt,
		},
		LocalUser: local,
		Passwords: passwords,
	}
}

// ToUser reassembles the flattened User the engine works with.
func (d UserDocument) ToUser() User {
	local := d.LocalUser
	local.Passwords = d.Passwords
	return User{
		ID:               d.User.ID,
		Name:             local.Name,
		DomainID:         d.User.DomainID,
		DefaultProjectID: d.User.DefaultProjectID,
		Enabled:          d.User.Enabled,
		Extra:            d.User.Extra,
		CreatedAt:        d.User.CreatedAt,
		LastActiveAt:     d.User.LastActiveAt,
		LocalUser:        local,
	}
}
