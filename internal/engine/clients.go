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
	"fmt"
	"net"
	"strconv"

	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/keystone"
	"github.com/Azure/DCS-IdentitySync/internal/platform"
)

// Well-known service ports on a cloud's management address.
const (
	portDBSync   = 8219
	portIdentity = 5000
	portPlatform = 6385
)

// ClientFactory builds the typed clients the sync threads talk
// through. Sessions are cached per region; invalidating one forces the
// next client call to authenticate from scratch.
type ClientFactory interface {
	// MasterDBSync returns the replication client for the system
	// controller's own identity backend.
	MasterDBSync() dbsync.ClientSpec

	// SubcloudDBSync returns the replication client for one subcloud.
	SubcloudDBSync(region, managementIP string) dbsync.ClientSpec

	// SubcloudIdentity returns the identity API client for one subcloud.
	SubcloudIdentity(region, managementIP string) keystone.ClientSpec

	// SubcloudPlatform returns the platform client for one subcloud.
	SubcloudPlatform(region, managementIP string) platform.ClientSpec

	// InvalidateSessions discards the cached session for one subcloud.
	InvalidateSessions(region string)

	// InvalidateMaster discards the cached session for the system
	// controller.
	InvalidateMaster()
}

// FactoryConfig carries the addressing and credentials the factory
// derives every client from. The same administrative credentials are
// valid on every cloud in the system.
type FactoryConfig struct {
	// MasterIP is the system controller's management address.
	MasterIP string `json:"master_ip"`

	// Credentials is the administrative identity used on every cloud.
	// AuthURL is filled in per cloud from its management address.
	Credentials keystone.Config `json:"credentials"`
}

type clientFactory struct {
	config        FactoryConfig
	masterSession *keystone.Session
	sessions      *keystone.SessionCache
}

// NewClientFactory builds the production factory.
func NewClientFactory(config FactoryConfig) ClientFactory {
	masterCreds := config.Credentials
	masterCreds.AuthURL = serviceURL(config.MasterIP, portIdentity) + "/v3"
	return &clientFactory{
		config:        config,
		masterSession: keystone.NewSession(masterCreds, nil),
		sessions:      keystone.NewSessionCache(128),
	}
}

// serviceURL forms a service base URL from a management address,
// bracketing IPv6 addresses.
func serviceURL(managementIP string, port int) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(managementIP, strconv.Itoa(port)))
}

func (f *clientFactory) subcloudSession(region, managementIP string) *keystone.Session {
	return f.sessions.GetOrCreate(region, func() *keystone.Session {
		creds := f.config.Credentials
		creds.AuthURL = serviceURL(managementIP, portIdentity) + "/v3"
		return keystone.NewSession(creds, nil)
	})
}

func (f *clientFactory) MasterDBSync() dbsync.ClientSpec {
	return dbsync.NewClient(serviceURL(f.config.MasterIP, portDBSync), f.masterSession, nil)
}

func (f *clientFactory) SubcloudDBSync(region, managementIP string) dbsync.ClientSpec {
	session := f.subcloudSession(region, managementIP)
	return dbsync.NewClient(serviceURL(managementIP, portDBSync), session, nil)
}

func (f *clientFactory) SubcloudIdentity(region, managementIP string) keystone.ClientSpec {
	session := f.subcloudSession(region, managementIP)
	return keystone.NewClient(serviceURL(managementIP, portIdentity)+"/v3", session, nil)
}

func (f *clientFactory) SubcloudPlatform(region, managementIP string) platform.ClientSpec {
	session := f.subcloudSession(region, managementIP)
	return platform.NewClient(serviceURL(managementIP, portPlatform), session, nil)
}

func (f *clientFactory) InvalidateSessions(region string) {
	f.sessions.Evict(region)
}

func (f *clientFactory) InvalidateMaster() {
	f.masterSession.Invalidate()
}
