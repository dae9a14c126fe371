package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/authority"
	"github.com/tenantgate/tenantgate/internal/session"
)

type nopStore struct{}

func (nopStore) ReplaceGroup(context.Context, string, string, []authority.Entity) error {
	return nil
}

type grantNone struct{}

func (grantNone) HasPermission(context.Context, *session.Identity, string, string, int64) (bool, error) {
	return false, nil
}

type grantAll struct{}

func (grantAll) HasPermission(context.Context, *session.Identity, string, string, int64) (bool, error) {
	return true, nil
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func testRoutes() []Route {
	return []Route{
		{
			Owner: "system", Name: "health",
			Method: http.MethodGet, Pattern: "/health",
			Requirement: authority.NewRequirement(authority.ScopeGuest),
			Handler:     okHandler,
		},
		{
			Owner: "tenants", Name: "create",
			Method: http.MethodPost, Pattern: "/tenants",
			Requirement: authority.NewRequirement(authority.ScopeSystem),
			Handler:     okHandler,
		},
		{
			Owner: "subsystems", Name: "read",
			Method: http.MethodGet, Pattern: "/subsystems/{id}",
			Requirement: authority.NewRequirement(authority.ScopeSubsystem).
				WithTarget(0, PathIDParser{}),
			Args: func(r *http.Request) []any {
				return []any{chi.URLParam(r, "id")}
			},
			Handler: okHandler,
		},
	}
}

func mountTestRouter(t *testing.T, perms authority.PermissionChecker) *chi.Mux {
	t.Helper()
	reg := NewRegistry()
	reg.Add(testRoutes()...)

	scopes := authority.NewScopeRegistry()
	index, err := authority.BuildIndex(context.Background(), reg, scopes, nopStore{}, "test")
	require.NoError(t, err)

	guard := authority.NewGuard(index, scopes, perms)
	r := chi.NewRouter()
	reg.Mount(r, guard, audit.Nop{}, nil)
	return r
}

func TestRegistryOperations(t *testing.T) {
	reg := NewRegistry()
	req := authority.NewRequirement(authority.ScopeSystem)
	reg.Add(
		Route{Owner: "tenants", Name: "databases", Method: http.MethodGet, Pattern: "/dbs", Requirement: req},
		Route{Owner: "tenants", Name: "databases", Method: http.MethodPost, Pattern: "/dbs/add", Requirement: req},
		Route{Owner: "system", Name: "health", Method: http.MethodGet, Pattern: "/health", Requirement: authority.NewRequirement(authority.ScopeGuest)},
	)

	ops := reg.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "tenants", ops[0].Owner)
	assert.Equal(t, []string{"/dbs", "/dbs/add"}, ops[0].Patterns)
	assert.Equal(t, []string{http.MethodGet, http.MethodPost}, ops[0].Methods)
	assert.Equal(t, "system", ops[1].Owner)
}

func TestGuardedRoutes(t *testing.T) {
	t.Run("guest route admits anonymous callers", func(t *testing.T) {
		router := mountTestRouter(t, grantNone{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("protected route without a session is 401", func(t *testing.T) {
		router := mountTestRouter(t, grantAll{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tenants", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("denied session is 403", func(t *testing.T) {
		router := mountTestRouter(t, grantNone{})
		req := httptest.NewRequest(http.MethodPost, "/tenants", nil)
		ident := &session.Identity{UserID: 7, Tenant: "acme"}
		req = req.WithContext(session.WithIdentity(req.Context(), ident))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("granted session reaches the handler", func(t *testing.T) {
		router := mountTestRouter(t, grantAll{})
		req := httptest.NewRequest(http.MethodPost, "/tenants", nil)
		ident := &session.Identity{UserID: 7, Tenant: "acme"}
		req = req.WithContext(session.WithIdentity(req.Context(), ident))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("subsystem target id flows from the path", func(t *testing.T) {
		router := mountTestRouter(t, grantAll{})
		req := httptest.NewRequest(http.MethodGet, "/subsystems/42", nil)
		ident := &session.Identity{UserID: 7, Tenant: "acme"}
		req = req.WithContext(session.WithIdentity(req.Context(), ident))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-numeric subsystem target is denied", func(t *testing.T) {
		router := mountTestRouter(t, grantAll{})
		req := httptest.NewRequest(http.MethodGet, "/subsystems/abc", nil)
		ident := &session.Identity{UserID: 7, Tenant: "acme"}
		req = req.WithContext(session.WithIdentity(req.Context(), ident))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandlerRoutes(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, audit.Nop{}, testSecret)

	t.Run("missing capability registration fails fast", func(t *testing.T) {
		_, err := h.Routes(authority.NewCapabilities())
		assert.Error(t, err)
	})

	t.Run("declared surface builds a valid index", func(t *testing.T) {
		caps := authority.NewCapabilities()
		caps.RegisterParser("path_id", PathIDParser{})

		reg, err := h.Routes(caps)
		require.NoError(t, err)

		scopes := authority.NewScopeRegistry()
		index, err := authority.BuildIndex(context.Background(), reg, scopes, nopStore{}, "test")
		require.NoError(t, err)
		assert.Equal(t, index.Size(), len(reg.Operations()))

		op := index.ByOperation("subsystems", "database_health")
		require.NotNil(t, op)
		assert.Equal(t, authority.ScopeSubsystem, op.Entity.Scope)
	})

	t.Run("tenant database operations carry distinct auth keys", func(t *testing.T) {
		caps := authority.NewCapabilities()
		caps.RegisterParser("path_id", PathIDParser{})

		reg, err := h.Routes(caps)
		require.NoError(t, err)

		scopes := authority.NewScopeRegistry()
		index, err := authority.BuildIndex(context.Background(), reg, scopes, nopStore{}, "test")
		require.NoError(t, err)

		seen := map[string]bool{}
		for _, name := range []string{"list_databases", "add_databases", "delete_databases"} {
			op := index.ByOperation("tenants", name)
			require.NotNil(t, op, name)
			assert.False(t, seen[op.Entity.Auth], "auth key %q reused", op.Entity.Auth)
			seen[op.Entity.Auth] = true
		}
	})
}
