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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// fernetRepoMasterID is the fixed master resource ID the key
// repository travels under; there is exactly one repository per
// system.
const fernetRepoMasterID = "fernet_repo"

// FernetConfig carries the key rotation settings.
type FernetConfig struct {
	// RotationInterval is how often the master keys are rotated.
	RotationInterval time.Duration `json:"rotation_interval"`

	// RepoPath is the master's fernet key repository directory, holding
	// one numbered file per key.
	RepoPath string `json:"repo_path"`

	// RotateCommand is the local command that performs the rotation.
	RotateCommand []string `json:"rotate_command"`
}

// FernetKeyManager rotates the master fernet key repository on a timer
// and distributes the result to every subcloud through the durable
// queue.
type FernetKeyManager struct {
	logger *slog.Logger
	store  database.Store
	config FernetConfig

	// wake nudges the platform sync threads after keys are enqueued.
	wake func(records.EndpointType)
}

// NewFernetKeyManager builds the key manager. The wake callback is
// typically GenericSyncManager.SyncRequest.
func NewFernetKeyManager(logger *slog.Logger, store database.Store, config FernetConfig, wake func(records.EndpointType)) *FernetKeyManager {
	if wake == nil {
		wake = func(records.EndpointType) {}
	}
	return &FernetKeyManager{
		logger: logger,
		store:  store,
		config: config,
		wake:   wake,
	}
}

// Run rotates keys at the configured interval until the context ends.
// A failed rotation is logged and retried on the next cycle; the old
// keys stay valid in the meantime.
func (f *FernetKeyManager) Run(ctx context.Context) {
	ticker := time.NewTicker(f.config.RotationInterval)
	defer ticker.Stop()

	f.logger.Info("fernet key rotation scheduled", "interval", f.config.RotationInterval.String())
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
		if err := f.rotate(ctx); err != nil {
			f.logger.Error("fernet key rotation failed", "error", err.Error())
			fernetRotationsCount.WithLabelValues(resultFatal).Inc()
			continue
		}
		fernetRotationsCount.WithLabelValues(resultOK).Inc()
	}
}

// rotate runs the local rotation command, re-reads the repository and
// queues the new key set for every subcloud.
func (f *FernetKeyManager) rotate(ctx context.Context) error {
	ctx, span := startRootSpan(ctx, "FernetKeyManager.rotate")
	defer span.End()

	if len(f.config.RotateCommand) == 0 {
		return fmt.Errorf("no rotation command configured")
	}
	cmd := exec.CommandContext(ctx, f.config.RotateCommand[0], f.config.RotateCommand[1:]...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("rotation command: %w: %s", err, strings.TrimSpace(string(output)))
	}

	repo, err := f.readRepo()
	if err != nil {
		return err
	}
	if len(repo.Keys) == 0 {
		f.logger.Warn("fernet repository is empty after rotation, skipping distribution")
		return nil
	}

	subclouds, err := f.store.ListSubclouds(ctx)
	if err != nil {
		return err
	}
	if len(subclouds) == 0 {
		return nil
	}
	regions := make([]string, 0, len(subclouds))
	for _, subcloud := range subclouds {
		regions = append(regions, subcloud.Region)
	}

	if err := f.enqueue(ctx, regions, records.OperationUpdate, repo); err != nil {
		return err
	}

	f.logger.Info("fernet keys rotated and queued",
		"keys", len(repo.Keys),
		"subclouds", len(regions))
	f.wake(records.EndpointPlatform)
	return nil
}

// DistributeKeys queues the current key repository for one subcloud,
// used when a subcloud first comes under management.
func (f *FernetKeyManager) DistributeKeys(ctx context.Context, region string) error {
	ctx, span := startRootSpan(ctx, "FernetKeyManager.DistributeKeys")
	defer span.End()

	repo, err := f.readRepo()
	if err != nil {
		return err
	}
	if len(repo.Keys) == 0 {
		f.logger.Warn("fernet repository is empty, skipping distribution", "region", region)
		return nil
	}

	if err := f.enqueue(ctx, []string{region}, records.OperationCreate, repo); err != nil {
		return err
	}
	f.wake(records.EndpointPlatform)
	return nil
}

func (f *FernetKeyManager) enqueue(ctx context.Context, regions []string, operation records.Operation, repo *records.KeyRepo) error {
	payload, err := json.Marshal(repo)
	if err != nil {
		return err
	}
	return f.store.EnqueueWork(ctx, regions, records.EndpointPlatform,
		records.ResourceFernetRepo, fernetRepoMasterID, operation, payload)
}

// readRepo loads the key repository directory: one file per key, named
// by rotation index. The highest index is the primary key. Every key
// must parse; a corrupt repository is never distributed.
func (f *FernetKeyManager) readRepo() (*records.KeyRepo, error) {
	entries, err := os.ReadDir(f.config.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("reading key repository: %w", err)
	}

	var repo records.KeyRepo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		index, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.config.RepoPath, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading key %d: %w", index, err)
		}
		key := strings.TrimSpace(string(raw))
		if _, err := fernet.DecodeKey(key); err != nil {
			return nil, fmt.Errorf("key %d does not parse: %w", index, err)
		}
		repo.Keys = append(repo.Keys, records.FernetKey{ID: index, Key: key})
	}

	sort.Slice(repo.Keys, func(i, j int) bool { return repo.Keys[i].ID < repo.Keys[j].ID })
	return &repo, nil
}
