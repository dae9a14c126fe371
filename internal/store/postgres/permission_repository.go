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

package postgres

import (
	"context"
	"fmt"

	"github.com/tenantgate/tenantgate/internal/permission"
)

// PermissionRepository implements permission.Store and
// permission.FeatureStore against the shared metadata schema.
type PermissionRepository struct {
	db *DB
}

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(db *DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// UserFeatureIDs returns the feature ids reachable through the user's
// enabled roles.
func (r *PermissionRepository) UserFeatureIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT f.feature_id
		FROM system_user_scope_role s
		JOIN system_role r ON r.id = s.role_id
		JOIN system_role_feature f ON f.role_id = r.id
		WHERE s.user_id = $1 AND r.status = 'enabled'
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user features: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// ScopeTargets returns the (scopeType, scopeId) rows the user holds for
// any of the feature ids.
func (r *PermissionRepository) ScopeTargets(ctx context.Context, userID int64, featureIDs []int64, scopeType string, limitOne bool) ([]permission.ScopeTarget, error) {
	query := `
		SELECT DISTINCT s.scope_type, s.scope_id
		FROM system_user_scope_role s
		JOIN system_role_feature f ON f.role_id = s.role_id
		WHERE s.user_id = $1 AND f.feature_id = ANY($2)
	`
	args := []interface{}{userID, featureIDs}
	if scopeType != "" {
		query += " AND s.scope_type = $3"
		args = append(args, scopeType)
	}
	if limitOne {
		query += " LIMIT 1"
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scope targets: %w", err)
	}
	defer rows.Close()

	var targets []permission.ScopeTarget
	for rows.Next() {
		var t permission.ScopeTarget
		if err := rows.Scan(&t.ScopeType, &t.ScopeID); err != nil {
			return nil, fmt.Errorf("failed to scan scope target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// AuthedUsers returns the (scopeType, userId) rows of every user whose
// role assignment covers any of the target ids for any of the features.
func (r *PermissionRepository) AuthedUsers(ctx context.Context, targetIDs, featureIDs []int64) ([]permission.ScopeUser, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT s.scope_type, s.user_id
		FROM system_user_scope_role s
		JOIN system_role_feature f ON f.role_id = s.role_id
		WHERE s.scope_id = ANY($1) AND f.feature_id = ANY($2)
	`, targetIDs, featureIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorized users: %w", err)
	}
	defer rows.Close()

	var users []permission.ScopeUser
	for rows.Next() {
		var u permission.ScopeUser
		if err := rows.Scan(&u.ScopeType, &u.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan authorized user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const tenantAuthKeysBase = `
	SELECT DISTINCT a.auth_key
	FROM system_feature f
	JOIN system_tenant_feature tf ON tf.feature_id = f.id
	JOIN system_tenant t ON t.id = tf.tenant_id
	JOIN system_feature_auth a ON a.feature_id = f.id
	WHERE t.code = $1
`

// AuthTenantFeatureIDs returns the tenant-granted feature ids carrying any
// of the given auth keys.
func (r *PermissionRepository) AuthTenantFeatureIDs(ctx context.Context, tenant string, authKeys ...string) ([]int64, error) {
	if tenant == "" || len(authKeys) == 0 {
		return nil, nil
	}
	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT a.feature_id
		FROM system_feature_auth a
		JOIN system_tenant_feature tf ON tf.feature_id = a.feature_id
		JOIN system_tenant t ON t.id = tf.tenant_id
		WHERE t.code = $1 AND a.auth_key = ANY($2)
	`, tenant, authKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant features by auth key: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// TenantFeatureIDs returns every feature id granted to the tenant.
func (r *PermissionRepository) TenantFeatureIDs(ctx context.Context, tenant string) ([]int64, error) {
	if tenant == "" {
		return nil, nil
	}
	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT tf.feature_id
		FROM system_tenant_feature tf
		JOIN system_tenant t ON t.id = tf.tenant_id
		WHERE t.code = $1
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant features: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// TenantAuthKeys returns the auth keys granted to the tenant through the
// given features.
func (r *PermissionRepository) TenantAuthKeys(ctx context.Context, tenant string, featureIDs ...int64) ([]string, error) {
	if tenant == "" || len(featureIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.pool.Query(ctx, tenantAuthKeysBase+" AND tf.feature_id = ANY($2)", tenant, featureIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant auth keys: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// TenantAllAuthKeys returns every auth key granted to the tenant.
func (r *PermissionRepository) TenantAllAuthKeys(ctx context.Context, tenant string) ([]string, error) {
	if tenant == "" {
		return nil, nil
	}
	rows, err := r.db.pool.Query(ctx, tenantAuthKeysBase, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant auth keys: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// CheckTenantAuth reports whether the tenant holds a feature granting the
// auth key.
func (r *PermissionRepository) CheckTenantAuth(ctx context.Context, tenant, authKey string) (bool, error) {
	if tenant == "" || authKey == "" {
		return false, nil
	}
	var exists bool
	err := r.db.pool.QueryRow(ctx,
		"SELECT EXISTS ("+tenantAuthKeysBase+" AND a.auth_key = $2)",
		tenant, authKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant auth: %w", err)
	}
	return exists, nil
}
