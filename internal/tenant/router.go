// Copyright 2026 The Tenantgate Authors
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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/observability/logger"
	"github.com/tenantgate/tenantgate/internal/observability/metrics"
	"github.com/tenantgate/tenantgate/internal/session"
)

// Pool is a live tenant connection pool. *pgxpool.Pool satisfies it.
type Pool interface {
	Ping(ctx context.Context) error
	Close()
}

// PoolBounds are the sizing limits of a tenant pool. Policy defaults, not
// hard constraints.
type PoolBounds struct {
	InitialSize int
	MinIdle     int
	MaxIdle     int
	MaxTotal    int
	MaxWait     time.Duration
}

// DefaultPoolBounds returns the stock sizing policy.
func DefaultPoolBounds() PoolBounds {
	return PoolBounds{
		InitialSize: 1,
		MinIdle:     1,
		MaxIdle:     5,
		MaxTotal:    10,
		MaxWait:     60 * time.Second,
	}
}

// ConnInfo is everything the pool factory needs to open a tenant database:
// decrypted credentials plus the sizing bounds.
type ConnInfo struct {
	Driver   string
	URL      string
	User     string
	Password string
	Bounds   PoolBounds
}

// PoolFactory constructs a bounded connection pool and verifies
// connectivity by acquiring and releasing one connection before returning.
type PoolFactory interface {
	New(ctx context.Context, info ConnInfo) (Pool, error)
}

// Cipher decrypts stored tenant credentials.
type Cipher interface {
	Decrypt(base64CipherText string) ([]byte, error)
}

// Router resolves a live connection pool for the calling tenant. Pools are
// constructed lazily from encrypted credentials and cached for the process
// lifetime; the super tenant's "main" pool is never constructed, it
// aliases the shared metadata pool.
type Router struct {
	service *Service
	cipher  Cipher
	factory PoolFactory
	meta    Pool
	bounds  PoolBounds
	audit   audit.Logger
	meter   *metrics.Meter

	mu     sync.RWMutex
	pools  map[string]Pool
	builds map[string]*sync.Mutex
}

// NewRouter creates a datasource router over the shared metadata pool.
// meter may be nil when metrics are disabled.
func NewRouter(service *Service, cipher Cipher, factory PoolFactory, meta Pool, bounds PoolBounds, auditLogger audit.Logger, meter *metrics.Meter) *Router {
	return &Router{
		service: service,
		cipher:  cipher,
		factory: factory,
		meta:    meta,
		bounds:  bounds,
		audit:   auditLogger,
		meter:   meter,
		pools:   make(map[string]Pool),
		builds:  make(map[string]*sync.Mutex),
	}
}

// Main resolves the calling tenant's primary pool.
func (r *Router) Main(ctx context.Context, ident *session.Identity) (Pool, error) {
	return r.Pool(ctx, ident, DBInfoMain)
}

// Pool resolves the named pool for the calling tenant. Construction of an
// uncached pool is serialized per (tenant, name) key so concurrent first
// access builds exactly one pool, while distinct tenants construct
// independently; already-cached lookups take only a read lock. A failed
// construction is never cached, so a later call retries.
func (r *Router) Pool(ctx context.Context, ident *session.Identity, name string) (Pool, error) {
	tenant := ident.TenantCode()
	if tenant == "" {
		return nil, ErrTenantMissing
	}
	if name == "" {
		return nil, fmt.Errorf("%w: tenant %q", ErrDBInfoMissing, tenant)
	}
	if r.service.IsSuperTenant(tenant) && name == DBInfoMain {
		return r.meta, nil
	}

	key := tenant + "/" + name
	r.mu.RLock()
	pool, ok := r.pools[key]
	r.mu.RUnlock()
	if ok {
		return pool, nil
	}

	build := r.buildLock(key)
	build.Lock()
	defer build.Unlock()

	// Double check under the per-key build lock.
	r.mu.RLock()
	pool, ok = r.pools[key]
	r.mu.RUnlock()
	if ok {
		return pool, nil
	}

	pool, err := r.construct(ctx, tenant, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.pools[key] = pool
	delete(r.builds, key)
	r.mu.Unlock()
	return pool, nil
}

func (r *Router) buildLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	build, ok := r.builds[key]
	if !ok {
		build = &sync.Mutex{}
		r.builds[key] = build
	}
	return build
}

func (r *Router) construct(ctx context.Context, tenant, name string) (Pool, error) {
	info, err := r.service.DatabaseWithToken(ctx, tenant, name)
	if err != nil {
		if errors.Is(err, ErrDBInfoNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: tenant %q db %q: %v", ErrDBInfoConnect, tenant, name, err)
	}

	password := ""
	if info.Token != "" {
		plain, err := r.cipher.Decrypt(info.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant %q db %q: %v", ErrDBInfoConnect, tenant, name, err)
		}
		password = string(plain)
	}

	pool, err := r.factory.New(ctx, ConnInfo{
		Driver:   info.Driver,
		URL:      info.URL,
		User:     info.User,
		Password: password,
		Bounds:   r.bounds,
	})
	if err != nil {
		slog.ErrorContext(ctx, "tenant pool construction failed",
			logger.Tenant(tenant),
			logger.DBName(name),
			logger.Error(err),
		)
		r.audit.Log(ctx, audit.Event{
			Type:     audit.TypePoolConnectFailed,
			TenantID: tenant,
			Resource: name,
		})
		r.meter.PoolFailed(ctx, tenant)
		return nil, fmt.Errorf("%w: tenant %q db %q: %v", ErrDBInfoConnect, tenant, name, err)
	}

	r.audit.Log(ctx, audit.Event{
		Type:     audit.TypePoolCreated,
		TenantID: tenant,
		Resource: name,
	})
	r.meter.PoolCreated(ctx, tenant)
	return pool, nil
}

// Close shuts down every cached tenant pool. The shared metadata pool is
// owned by the caller and left open.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, pool := range r.pools {
		pool.Close()
		delete(r.pools, key)
	}
}
