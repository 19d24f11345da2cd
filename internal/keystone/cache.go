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

package keystone

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// SessionCache holds one authenticated session per region so sync
// threads and audits share tokens instead of re-authenticating per
// call. Eviction is the reinitialize path after an Unauthorized.
type SessionCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewSessionCache returns a cache bounded to maxEntries regions; zero
// means unbounded.
func NewSessionCache(maxEntries int) *SessionCache {
	return &SessionCache{cache: lru.New(maxEntries)}
}

// GetOrCreate returns the cached session for a region, building and
// caching one with create on first use.
func (c *SessionCache) GetOrCreate(region string, create func() *Session) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache.Get(lru.Key(region)); ok {
		return cached.(*Session)
	}
	session := create()
	c.cache.Add(lru.Key(region), session)
	return session
}

// Evict invalidates and drops the cached session for a region.
func (c *SessionCache) Evict(region string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache.Get(lru.Key(region)); ok {
		cached.(*Session).Invalidate()
	}
	c.cache.Remove(lru.Key(region))
}
