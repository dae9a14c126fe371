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

package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tenantgate/tenantgate/internal/authority"
	"github.com/tenantgate/tenantgate/internal/observability/logger"
	"github.com/tenantgate/tenantgate/internal/session"
)

// Engine computes permission facts from the role/feature/action data
// model. All queries are tenant-scoped and read-only; the identity is
// passed explicitly on every call.
type Engine struct {
	scopes   *authority.ScopeRegistry
	store    Store
	features FeatureStore
	super    SuperTenantChecker
}

// NewEngine creates a permission engine.
func NewEngine(scopes *authority.ScopeRegistry, store Store, features FeatureStore, super SuperTenantChecker) *Engine {
	return &Engine{scopes: scopes, store: store, features: features, super: super}
}

// MyAuths returns every action key reachable through the user's roles'
// features, intersected with the features granted to the acting tenant.
func (e *Engine) MyAuths(ctx context.Context, ident *session.Identity) ([]string, error) {
	if !ident.HasSession() {
		return nil, nil
	}
	featureIDs, err := e.store.UserFeatureIDs(ctx, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("querying user features: %w", err)
	}
	if len(featureIDs) == 0 {
		return nil, nil
	}
	auths, err := e.features.TenantAuthKeys(ctx, ident.Tenant, featureIDs...)
	if err != nil {
		return nil, fmt.Errorf("querying tenant auth keys: %w", err)
	}
	return auths, nil
}

// ScopeTargetIDs returns the target ids the user holds the action on
// within the given scope. The All sentinel is returned for administrators,
// and for users holding the action through a System-scoped role: system
// scope implies access to every subsystem target.
func (e *Engine) ScopeTargetIDs(ctx context.Context, ident *session.Identity, authKey, scope string) (TargetSet, error) {
	if !ident.HasSession() || authKey == "" {
		return TargetSet{}, nil
	}
	if _, ok := e.scopes.Get(scope); !ok {
		return TargetSet{}, nil
	}
	granted, err := e.features.CheckTenantAuth(ctx, ident.Tenant, authKey)
	if err != nil {
		return TargetSet{}, fmt.Errorf("checking tenant feature grant: %w", err)
	}
	if !granted {
		return TargetSet{}, nil
	}
	// Administrators, whether tenant or super tenant, see every target.
	if ident.IsAdmin() {
		return TargetSet{All: true}, nil
	}

	byScope, err := e.scopeTargetsByKey(ctx, ident, authKey, false, "")
	if err != nil {
		return TargetSet{}, err
	}
	if ids, ok := byScope[authority.ScopeSystem]; ok && len(ids) > 0 {
		return TargetSet{All: true}, nil
	}
	return TargetSet{IDs: uniqueSorted(byScope[scope])}, nil
}

// HasPermission reports whether the user holds the action on the target
// within the scope. Guest scope is granted unconditionally; super-tenant
// administrators bypass the tenant feature gate; tenant administrators
// bypass per-target checks within their tenant.
func (e *Engine) HasPermission(ctx context.Context, ident *session.Identity, authKey, scope string, targetID int64) (bool, error) {
	scopeEntity, ok := e.scopes.Get(scope)
	if !ok {
		return false, nil
	}
	if scopeEntity.IsGuest() {
		return true, nil
	}
	if !ident.HasSession() || authKey == "" {
		return false, nil
	}
	if ident.IsAdmin() && e.super.IsSuperTenant(ident.Tenant) {
		return true, nil
	}

	// Tenant-level feature gating is checked first, always.
	granted, err := e.features.CheckTenantAuth(ctx, ident.Tenant, authKey)
	if err != nil {
		return false, fmt.Errorf("checking tenant feature grant: %w", err)
	}
	result := false
	if granted {
		if ident.IsAdmin() {
			result = true
		} else {
			targets, err := e.ScopeTargetIDs(ctx, ident, authKey, scope)
			if err != nil {
				return false, err
			}
			result = targets.All || targets.Contains(targetID)
		}
	}
	slog.DebugContext(ctx, "permission checked",
		logger.AuthKey(authKey),
		logger.ScopeType(scope),
		logger.TargetID(targetID),
		logger.UserID(ident.UserID),
		slog.Bool("admin", ident.Admin),
		slog.Bool("result", result),
	)
	return result, nil
}

// HasAnyPermission reports whether the user holds the action on at least
// one target. An empty scope defaults to probing the Subsystem scope; the
// probe is an existence check, never a full materialization.
func (e *Engine) HasAnyPermission(ctx context.Context, ident *session.Identity, authKey, scope string) (bool, error) {
	if !ident.HasSession() || authKey == "" {
		return false, nil
	}
	var scopeEntity *authority.Scope
	if scope != "" {
		var ok bool
		if scopeEntity, ok = e.scopes.Get(scope); !ok {
			return false, nil
		}
		if scopeEntity.IsGuest() {
			return true, nil
		}
	}
	if ident.IsAdmin() && e.super.IsSuperTenant(ident.Tenant) {
		return true, nil
	}
	granted, err := e.features.CheckTenantAuth(ctx, ident.Tenant, authKey)
	if err != nil {
		return false, fmt.Errorf("checking tenant feature grant: %w", err)
	}
	if !granted {
		return false, nil
	}
	if ident.IsAdmin() {
		return true, nil
	}

	filter := ""
	if scopeEntity != nil && !scopeEntity.IsSubsystem() {
		filter = scopeEntity.Name()
	}
	byScope, err := e.scopeTargetsByKey(ctx, ident, authKey, true, filter)
	if err != nil {
		return false, err
	}
	return len(byScope) > 0, nil
}

// AuthedUserIDs is the reverse lookup: every user whose role assignment
// covers any of the target ids for the action. For System scope the target
// ids collapse to the sentinel 0; for Subsystem the result additionally
// includes users granted through a System-scoped role.
func (e *Engine) AuthedUserIDs(ctx context.Context, ident *session.Identity, authKey, scope string, targetIDs ...int64) ([]int64, error) {
	scopeEntity, ok := e.scopes.Get(scope)
	if !ok {
		return nil, nil
	}
	if scopeEntity.IsSystem() {
		targetIDs = []int64{0}
	}
	byScope, err := e.authedUsersByKey(ctx, ident, authKey, targetIDs)
	if err != nil {
		return nil, err
	}
	userIDs := byScope[scopeEntity.Name()]
	if scopeEntity.IsSubsystem() {
		userIDs = append(userIDs, byScope[authority.ScopeSystem]...)
	}
	return uniqueSorted(userIDs), nil
}

// scopeTargetsByKey resolves the tenant-granted features carrying the auth
// key, then groups the user's (scopeType, scopeId) assignment rows by
// scope. Rows naming unknown scope types are skipped.
func (e *Engine) scopeTargetsByKey(ctx context.Context, ident *session.Identity, authKey string, limitOne bool, scopeFilter string) (map[string][]int64, error) {
	if !ident.HasSession() {
		return nil, nil
	}
	featureIDs, err := e.features.AuthTenantFeatureIDs(ctx, ident.Tenant, authKey)
	if err != nil {
		return nil, fmt.Errorf("querying tenant features for auth key: %w", err)
	}
	if len(featureIDs) == 0 {
		return nil, nil
	}
	rows, err := e.store.ScopeTargets(ctx, ident.UserID, featureIDs, scopeFilter, limitOne)
	if err != nil {
		return nil, fmt.Errorf("querying scope targets: %w", err)
	}
	result := make(map[string][]int64)
	for _, row := range rows {
		if _, ok := e.scopes.Get(row.ScopeType); !ok {
			continue
		}
		result[row.ScopeType] = append(result[row.ScopeType], row.ScopeID)
	}
	return result, nil
}

func (e *Engine) authedUsersByKey(ctx context.Context, ident *session.Identity, authKey string, targetIDs []int64) (map[string][]int64, error) {
	if !ident.HasSession() || authKey == "" || len(targetIDs) == 0 {
		return nil, nil
	}
	featureIDs, err := e.features.AuthTenantFeatureIDs(ctx, ident.Tenant, authKey)
	if err != nil {
		return nil, fmt.Errorf("querying tenant features for auth key: %w", err)
	}
	if len(featureIDs) == 0 {
		return nil, nil
	}
	rows, err := e.store.AuthedUsers(ctx, targetIDs, featureIDs)
	if err != nil {
		return nil, fmt.Errorf("querying authorized users: %w", err)
	}
	result := make(map[string][]int64)
	for _, row := range rows {
		if _, ok := e.scopes.Get(row.ScopeType); !ok {
			continue
		}
		result[row.ScopeType] = append(result[row.ScopeType], row.UserID)
	}
	return result, nil
}

func uniqueSorted(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
