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

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/authority"
	"github.com/tenantgate/tenantgate/internal/observability/logger"
	"github.com/tenantgate/tenantgate/internal/observability/metrics"
	"github.com/tenantgate/tenantgate/internal/permission"
	"github.com/tenantgate/tenantgate/internal/secret"
	"github.com/tenantgate/tenantgate/internal/session"
	"github.com/tenantgate/tenantgate/internal/tenant"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	perms       *permission.Engine
	tenants     *tenant.Service
	data        *tenant.Router
	cipher      *secret.Cipher
	auditLogger audit.Logger
	jwtSecret   []byte
}

// NewHandler creates a new HTTP handler
func NewHandler(
	perms *permission.Engine,
	tenants *tenant.Service,
	data *tenant.Router,
	cipher *secret.Cipher,
	auditLogger audit.Logger,
	jwtSecret []byte,
) *Handler {
	return &Handler{
		perms:       perms,
		tenants:     tenants,
		data:        data,
		cipher:      cipher,
		auditLogger: auditLogger,
		jwtSecret:   jwtSecret,
	}
}

// Routes declares every exposed operation with its authority requirement.
// Special capabilities are resolved from the registry by name, so a
// missing registration surfaces at startup rather than at request time.
// The returned registry is both the mount table and the catalog the
// authority index is built from.
func (h *Handler) Routes(caps *authority.Capabilities) (*Registry, error) {
	everyone, err := caps.Checker("everyone")
	if err != nil {
		return nil, err
	}
	pathID, err := caps.Parser("path_id")
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()

	reg.Add(Route{
		Owner: "system", Name: "health",
		Method: http.MethodGet, Pattern: "/health",
		Requirement: authority.NewRequirement(authority.ScopeGuest),
		Handler:     h.HealthCheck,
	})

	// Permission queries: open to any authenticated user.
	reg.Add(
		Route{
			Owner: "permissions", Name: "mine",
			Method: http.MethodGet, Pattern: "/api/v1/permissions/mine",
			Requirement: authority.NewRequirement(authority.ScopeSystem).
				WithChecker(everyone),
			Handler: h.MyAuths,
		},
		Route{
			Owner: "permissions", Name: "targets",
			Method: http.MethodGet, Pattern: "/api/v1/permissions/targets",
			Requirement: authority.NewRequirement(authority.ScopeSystem).
				WithChecker(everyone),
			Handler: h.ScopeTargets,
		},
		Route{
			Owner: "permissions", Name: "check",
			Method: http.MethodGet, Pattern: "/api/v1/permissions/check",
			Requirement: authority.NewRequirement(authority.ScopeSystem).
				WithChecker(everyone),
			Handler: h.CheckPermission,
		},
		Route{
			Owner: "permissions", Name: "users",
			Method: http.MethodGet, Pattern: "/api/v1/permissions/users",
			Requirement: authority.NewRequirement(authority.ScopeSystem),
			Handler:     h.AuthedUsers,
		},
	)

	// Subsystem-scoped: the target id is the captured path segment and the
	// caller must hold the action on that specific subsystem.
	reg.Add(Route{
		Owner: "subsystems", Name: "database_health",
		Method: http.MethodGet, Pattern: "/api/v1/subsystems/{subsystemID}/database/health",
		Requirement: authority.NewRequirement(authority.ScopeSubsystem).
			WithTarget(0, pathID),
		Args: func(r *http.Request) []any {
			return []any{chi.URLParam(r, "subsystemID")}
		},
		Handler: h.SubsystemDatabaseHealth,
	})

	// Tenant administration: System-scoped role data decides. Each
	// operation binds its own pattern since the pattern doubles as the
	// auth key.
	reg.Add(
		Route{
			Owner: "tenants", Name: "create",
			Method: http.MethodPost, Pattern: "/api/v1/tenants",
			Requirement: authority.NewRequirement(authority.ScopeSystem),
			Handler:     h.CreateTenant,
		},
		Route{
			Owner: "tenants", Name: "list_databases",
			Method: http.MethodGet, Pattern: "/api/v1/tenants/{tenantID}/databases",
			Requirement: authority.NewRequirement(authority.ScopeSystem),
			Handler:     h.ListTenantDatabases,
		},
		Route{
			Owner: "tenants", Name: "add_databases",
			Method: http.MethodPost, Pattern: "/api/v1/tenants/{tenantID}/databases/add",
			Requirement: authority.NewRequirement(authority.ScopeSystem),
			Handler:     h.AddTenantDatabases,
		},
		Route{
			Owner: "tenants", Name: "delete_databases",
			Method: http.MethodPost, Pattern: "/api/v1/tenants/{tenantID}/databases/delete",
			Requirement: authority.NewRequirement(authority.ScopeSystem),
			Handler:     h.DeleteTenantDatabases,
		},
	)

	return reg, nil
}

// NewRouter creates the HTTP router with every route mounted behind the
// guard.
func NewRouter(h *Handler, reg *Registry, guard *authority.Guard, rateLimiter *RateLimiter, meter *metrics.Meter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.SessionMiddleware)

	reg.Mount(r, guard, h.auditLogger, meter)

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "tenantgate",
	})
}

// MyAuths returns every action key reachable through the caller's roles.
func (h *Handler) MyAuths(w http.ResponseWriter, r *http.Request) {
	ident := session.FromContext(r.Context())
	auths, err := h.perms.MyAuths(r.Context(), ident)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to resolve caller auths", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to resolve permissions")
		return
	}
	if auths == nil {
		auths = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"auths": auths})
}

// ScopeTargets returns the target ids the caller holds the action on.
func (h *Handler) ScopeTargets(w http.ResponseWriter, r *http.Request) {
	authKey := r.URL.Query().Get("auth")
	scope := r.URL.Query().Get("scope")
	if authKey == "" || scope == "" {
		respondError(w, http.StatusBadRequest, "auth and scope query parameters are required")
		return
	}

	ident := session.FromContext(r.Context())
	targets, err := h.perms.ScopeTargetIDs(r.Context(), ident, authKey, scope)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to resolve scope targets", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to resolve targets")
		return
	}

	ids := targets.IDs
	if ids == nil {
		ids = []int64{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"all": targets.All,
		"ids": ids,
	})
}

// CheckPermission reports whether the caller holds the action on the
// target.
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	authKey := q.Get("auth")
	scope := q.Get("scope")
	if authKey == "" || scope == "" {
		respondError(w, http.StatusBadRequest, "auth and scope query parameters are required")
		return
	}

	var targetID int64
	if raw := q.Get("target"); raw != "" {
		var err error
		if targetID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			respondError(w, http.StatusBadRequest, "target must be numeric")
			return
		}
	}

	ident := session.FromContext(r.Context())
	var (
		granted bool
		err     error
	)
	if q.Get("any") == "true" {
		granted, err = h.perms.HasAnyPermission(r.Context(), ident, authKey, scope)
	} else {
		granted, err = h.perms.HasPermission(r.Context(), ident, authKey, scope, targetID)
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "permission check failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "permission check failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

// AuthedUsers is the reverse lookup: every user holding the action on any
// of the given targets.
func (h *Handler) AuthedUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	authKey := q.Get("auth")
	scope := q.Get("scope")
	if authKey == "" || scope == "" {
		respondError(w, http.StatusBadRequest, "auth and scope query parameters are required")
		return
	}

	targetIDs, err := CSVIDsParser{}.TargetIDs(r.Context(), q.Get("targets"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "targets must be a comma-separated id list")
		return
	}

	ident := session.FromContext(r.Context())
	userIDs, err := h.perms.AuthedUserIDs(r.Context(), ident, authKey, scope, targetIDs...)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to resolve authorized users", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to resolve users")
		return
	}
	if userIDs == nil {
		userIDs = []int64{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_ids": userIDs})
}

// SubsystemDatabaseHealth pings the calling tenant's primary database.
func (h *Handler) SubsystemDatabaseHealth(w http.ResponseWriter, r *http.Request) {
	ident := session.FromContext(r.Context())
	pool, err := h.data.Main(r.Context(), ident)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrDBInfoNotFound):
			respondError(w, http.StatusNotFound, "tenant database is not registered")
		case errors.Is(err, tenant.ErrDBInfoConnect):
			respondError(w, http.StatusBadGateway, "tenant database is unreachable")
		default:
			slog.ErrorContext(r.Context(), "failed to resolve tenant pool", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to resolve tenant database")
		}
		return
	}
	if err := pool.Ping(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "tenant database ping failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type createTenantRequest struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	GrantAllFeature bool   `json:"grant_all_features"`
}

// CreateTenant provisions a tenant if it does not already exist.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "tenant code is required")
		return
	}
	if err := h.tenants.CreateIfMissing(r.Context(), req.Code, req.Name, req.GrantAllFeature); err != nil {
		slog.ErrorContext(r.Context(), "failed to create tenant", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create tenant")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"code": req.Code})
}

// ListTenantDatabases lists a tenant's database records, credentials
// redacted.
func (h *Handler) ListTenantDatabases(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "tenant id must be numeric")
		return
	}
	infos, err := h.tenants.Databases(r.Context(), tenantID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list tenant databases", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list tenant databases")
		return
	}
	if infos == nil {
		infos = []*tenant.DBInfo{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"databases": infos})
}

type addDatabaseRequest struct {
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// AddTenantDatabases registers database records for a tenant. Passwords
// are sealed before they touch the metadata store.
func (h *Handler) AddTenantDatabases(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "tenant id must be numeric")
		return
	}

	var reqs []addDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	infos := make([]*tenant.DBInfo, 0, len(reqs))
	for _, req := range reqs {
		token := ""
		if req.Password != "" {
			if token, err = h.cipher.Encrypt([]byte(req.Password)); err != nil {
				slog.ErrorContext(r.Context(), "failed to seal tenant credential", logger.Error(err))
				respondError(w, http.StatusInternalServerError, "failed to seal credential")
				return
			}
		}
		infos = append(infos, &tenant.DBInfo{
			TenantID: tenantID,
			Name:     req.Name,
			Driver:   req.Driver,
			URL:      req.URL,
			User:     req.User,
			Token:    token,
		})
	}

	if err := h.tenants.AddDatabases(r.Context(), tenantID, infos); err != nil {
		if errors.Is(err, tenant.ErrDBInfoDuplicate) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "failed to add tenant databases", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to add tenant databases")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int{"added": len(infos)})
}

type deleteDatabasesRequest struct {
	Names []string `json:"names"`
}

// DeleteTenantDatabases removes named database records of a tenant.
func (h *Handler) DeleteTenantDatabases(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "tenant id must be numeric")
		return
	}

	var req deleteDatabasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.tenants.DeleteDatabases(r.Context(), tenantID, req.Names); err != nil {
		slog.ErrorContext(r.Context(), "failed to delete tenant databases", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete tenant databases")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": len(req.Names)})
}
