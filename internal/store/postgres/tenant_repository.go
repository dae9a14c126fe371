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

	"github.com/jackc/pgx/v5"
	"github.com/tenantgate/tenantgate/internal/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// DBInfoByName returns the named database record of a tenant, matched by
// code or numeric id, with the encrypted token included.
func (r *TenantRepository) DBInfoByName(ctx context.Context, tenantCode, name string) (*tenant.DBInfo, error) {
	if tenantCode == "" || name == "" {
		return nil, fmt.Errorf("%w: tenant %q db %q", tenant.ErrDBInfoNotFound, tenantCode, name)
	}
	var info tenant.DBInfo
	err := r.db.pool.QueryRow(ctx, `
		SELECT d.tenant_id, d.name, d.jdbc_driver, d.jdbc_url, d.jdbc_user, d.jdbc_token
		FROM system_tenant_dbinfo d
		JOIN system_tenant t ON t.id = d.tenant_id
		WHERE d.name = $1 AND t.id > 0 AND (t.code = $2 OR CAST(t.id AS TEXT) = $2)
	`, name, tenantCode).Scan(
		&info.TenantID, &info.Name, &info.Driver, &info.URL, &info.User, &info.Token,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: tenant %q db %q", tenant.ErrDBInfoNotFound, tenantCode, name)
		}
		return nil, fmt.Errorf("failed to query tenant database info: %w", err)
	}
	return &info, nil
}

// DBInfosByTenantIDs lists database records with credentials redacted.
func (r *TenantRepository) DBInfosByTenantIDs(ctx context.Context, tenantIDs ...int64) ([]*tenant.DBInfo, error) {
	if len(tenantIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.pool.Query(ctx, `
		SELECT d.tenant_id, d.name, d.jdbc_driver, d.jdbc_url, d.jdbc_user
		FROM system_tenant_dbinfo d
		WHERE d.tenant_id = ANY($1)
	`, tenantIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant database infos: %w", err)
	}
	defer rows.Close()

	var infos []*tenant.DBInfo
	for rows.Next() {
		var info tenant.DBInfo
		if err := rows.Scan(&info.TenantID, &info.Name, &info.Driver, &info.URL, &info.User); err != nil {
			return nil, fmt.Errorf("failed to scan tenant database info: %w", err)
		}
		info.Token = tenant.RedactedToken
		infos = append(infos, &info)
	}
	return infos, rows.Err()
}

// AddDBInfos inserts database records transactionally.
func (r *TenantRepository) AddDBInfos(ctx context.Context, tenantID int64, infos []*tenant.DBInfo) error {
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		for _, info := range infos {
			if _, err := tx.Exec(ctx, `
				INSERT INTO system_tenant_dbinfo (tenant_id, name, jdbc_driver, jdbc_url, jdbc_user, jdbc_token)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, tenantID, info.Name, info.Driver, info.URL, info.User, info.Token); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add tenant database infos: %w", err)
	}
	return nil
}

// DeleteDBInfos removes named database records transactionally.
func (r *TenantRepository) DeleteDBInfos(ctx context.Context, tenantID int64, names []string) error {
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		for _, name := range names {
			if _, err := tx.Exec(ctx, `
				DELETE FROM system_tenant_dbinfo WHERE tenant_id = $1 AND name = $2
			`, tenantID, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete tenant database infos: %w", err)
	}
	return nil
}

// CheckEnabled reports whether the tenant exists and is enabled.
func (r *TenantRepository) CheckEnabled(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM system_tenant t
			WHERE t.code = $1 AND t.status = 'enabled'
		)
	`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant: %w", err)
	}
	return exists, nil
}

// CreateIfMissing inserts the tenant unless it already exists, optionally
// granting it every known feature.
func (r *TenantRepository) CreateIfMissing(ctx context.Context, code, name string, grantAllFeatures bool) error {
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO system_tenant (code, name, status)
			VALUES ($1, $2, 'enabled')
			ON CONFLICT (code) DO NOTHING
		`, code, name); err != nil {
			return err
		}
		if grantAllFeatures {
			if _, err := tx.Exec(ctx, `
				INSERT INTO system_tenant_feature (tenant_id, feature_id)
				SELECT t.id, f.id
				FROM system_tenant t, system_feature f
				WHERE t.code = $1
				ON CONFLICT (tenant_id, feature_id) DO NOTHING
			`, code); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create tenant %q: %w", code, err)
	}
	return nil
}
