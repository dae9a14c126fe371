package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/session"
)

type fakePool struct {
	name   string
	closed bool
}

func (p *fakePool) Ping(context.Context) error { return nil }
func (p *fakePool) Close()                     { p.closed = true }

type fakeRepo struct {
	infos map[string]*DBInfo // "tenant/name" -> record
}

func (r *fakeRepo) DBInfoByName(_ context.Context, tenant, name string) (*DBInfo, error) {
	info, ok := r.infos[tenant+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %q db %q", ErrDBInfoNotFound, tenant, name)
	}
	return info, nil
}

func (r *fakeRepo) DBInfosByTenantIDs(context.Context, ...int64) ([]*DBInfo, error) {
	return nil, nil
}
func (r *fakeRepo) AddDBInfos(context.Context, int64, []*DBInfo) error   { return nil }
func (r *fakeRepo) DeleteDBInfos(context.Context, int64, []string) error { return nil }
func (r *fakeRepo) CheckEnabled(context.Context, string) (bool, error)   { return true, nil }
func (r *fakeRepo) CreateIfMissing(context.Context, string, string, bool) error {
	return nil
}

// plainCipher passes tokens through untouched.
type plainCipher struct{}

func (plainCipher) Decrypt(token string) ([]byte, error) { return []byte(token), nil }

type brokenCipher struct{}

func (brokenCipher) Decrypt(string) ([]byte, error) {
	return nil, errors.New("cipher text malformed")
}

type countingFactory struct {
	mu       sync.Mutex
	calls    int32
	failNext int32
	built    []*fakePool
}

func (f *countingFactory) New(_ context.Context, info ConnInfo) (Pool, error) {
	atomic.AddInt32(&f.calls, 1)
	if atomic.AddInt32(&f.failNext, -1) >= 0 {
		return nil, errors.New("connection refused")
	}
	pool := &fakePool{name: info.URL}
	f.mu.Lock()
	f.built = append(f.built, pool)
	f.mu.Unlock()
	return pool, nil
}

func newTestRouter(repo Repository, factory PoolFactory, cipher Cipher, meta Pool) *Router {
	service := NewService(repo, "platform.super", audit.Nop{})
	return NewRouter(service, cipher, factory, meta, DefaultPoolBounds(), audit.Nop{}, nil)
}

func acmeRepo() *fakeRepo {
	return &fakeRepo{infos: map[string]*DBInfo{
		"acme/main": {TenantID: 1, Name: "main", Driver: "postgres", URL: "postgres://acme", User: "svc", Token: "secret"},
		"beta/main": {TenantID: 2, Name: "main", Driver: "postgres", URL: "postgres://beta", User: "svc", Token: "secret"},
	}}
}

func TestRouterPool(t *testing.T) {
	ctx := context.Background()
	acme := &session.Identity{UserID: 7, Tenant: "acme"}

	t.Run("repeat calls return the cached pool", func(t *testing.T) {
		factory := &countingFactory{}
		r := newTestRouter(acmeRepo(), factory, plainCipher{}, &fakePool{name: "meta"})

		first, err := r.Main(ctx, acme)
		require.NoError(t, err)
		second, err := r.Main(ctx, acme)
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, int32(1), atomic.LoadInt32(&factory.calls))
	})

	t.Run("concurrent first access constructs exactly one pool", func(t *testing.T) {
		factory := &countingFactory{}
		r := newTestRouter(acmeRepo(), factory, plainCipher{}, &fakePool{name: "meta"})

		const n = 32
		pools := make([]Pool, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pool, err := r.Main(ctx, acme)
				assert.NoError(t, err)
				pools[i] = pool
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&factory.calls))
		for i := 1; i < n; i++ {
			assert.Same(t, pools[0], pools[i])
		}
	})

	t.Run("distinct tenants get distinct pools", func(t *testing.T) {
		factory := &countingFactory{}
		r := newTestRouter(acmeRepo(), factory, plainCipher{}, &fakePool{name: "meta"})

		beta := &session.Identity{UserID: 8, Tenant: "beta"}
		p1, err := r.Main(ctx, acme)
		require.NoError(t, err)
		p2, err := r.Main(ctx, beta)
		require.NoError(t, err)

		assert.NotSame(t, p1, p2)
		assert.Equal(t, int32(2), atomic.LoadInt32(&factory.calls))
	})

	t.Run("failed construction is not cached and retries", func(t *testing.T) {
		factory := &countingFactory{failNext: 1}
		r := newTestRouter(acmeRepo(), factory, plainCipher{}, &fakePool{name: "meta"})

		_, err := r.Main(ctx, acme)
		require.ErrorIs(t, err, ErrDBInfoConnect)

		pool, err := r.Main(ctx, acme)
		require.NoError(t, err)
		assert.NotNil(t, pool)
		assert.Equal(t, int32(2), atomic.LoadInt32(&factory.calls))
	})

	t.Run("super tenant main aliases the metadata pool", func(t *testing.T) {
		factory := &countingFactory{}
		meta := &fakePool{name: "meta"}
		r := newTestRouter(acmeRepo(), factory, plainCipher{}, meta)

		superAdmin := &session.Identity{UserID: 1, Tenant: "platform.super", Admin: true}
		pool, err := r.Main(ctx, superAdmin)
		require.NoError(t, err)
		assert.Same(t, Pool(meta), pool)
		assert.Equal(t, int32(0), atomic.LoadInt32(&factory.calls))
	})

	t.Run("missing tenant or name", func(t *testing.T) {
		r := newTestRouter(acmeRepo(), &countingFactory{}, plainCipher{}, &fakePool{})

		_, err := r.Main(ctx, nil)
		assert.ErrorIs(t, err, ErrTenantMissing)

		_, err = r.Pool(ctx, acme, "")
		assert.ErrorIs(t, err, ErrDBInfoMissing)
	})

	t.Run("unregistered database propagates not found", func(t *testing.T) {
		r := newTestRouter(acmeRepo(), &countingFactory{}, plainCipher{}, &fakePool{})

		_, err := r.Pool(ctx, acme, "reporting")
		assert.ErrorIs(t, err, ErrDBInfoNotFound)
	})

	t.Run("undecryptable credential fails as a connect error", func(t *testing.T) {
		factory := &countingFactory{}
		r := newTestRouter(acmeRepo(), factory, brokenCipher{}, &fakePool{})

		_, err := r.Main(ctx, acme)
		require.ErrorIs(t, err, ErrDBInfoConnect)
		assert.Equal(t, int32(0), atomic.LoadInt32(&factory.calls))
	})

	t.Run("close shuts every cached pool but not the metadata pool", func(t *testing.T) {
		factory := &countingFactory{}
		meta := &fakePool{name: "meta"}
		r := newTestRouter(acmeRepo(), factory, plainCipher{}, meta)

		pool, err := r.Main(ctx, acme)
		require.NoError(t, err)

		r.Close()
		assert.True(t, pool.(*fakePool).closed)
		assert.False(t, meta.closed)
	})
}
