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

package engine

import (
	"context"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// handlePlatform applies fernet key repository work. The repository is
// a single whole-valued resource per subcloud, so every operation
// reduces to installing the captured key set.
func (t *SyncThread) handlePlatform(ctx context.Context, work *database.Work) error {
	if work.ResourceType != records.ResourceFernetRepo {
		return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: "handlePlatform",
			Message: "no handler for resource type " + string(work.ResourceType)}
	}

	repo, err := decodeInfo[records.KeyRepo](work)
	if err != nil {
		return err
	}
	if len(repo.Keys) == 0 {
		return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: "handlePlatform",
			Message: "fernet repository payload carries no keys"}
	}

	client := t.factory.SubcloudPlatform(t.region, t.managementIP)

	switch work.Operation {
	case records.OperationCreate:
		err := client.CreateKeyRepo(ctx, repo)
		if dbsync.IsKind(err, dbsync.KindConflict) {
			// The subcloud already has a repository; replace it.
			err = client.UpdateKeyRepo(ctx, repo)
		}
		return err

	case records.OperationUpdate, records.OperationPatch:
		err := client.UpdateKeyRepo(ctx, repo)
		if dbsync.IsKind(err, dbsync.KindNotFound) {
			// Never installed on this subcloud; fall back to install.
			err = client.CreateKeyRepo(ctx, repo)
		}
		return err
	}

	return unknownOperation(work)
}
