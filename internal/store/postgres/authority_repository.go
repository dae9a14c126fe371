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
	"github.com/tenantgate/tenantgate/internal/authority"
)

// AuthorityRepository implements authority.AuditPersistence: the resolved
// authority set is rebuilt on every startup with delete-then-insert
// semantics scoped to the owning application and group.
type AuthorityRepository struct {
	db *DB
}

// NewAuthorityRepository creates a new authority repository
func NewAuthorityRepository(db *DB) *AuthorityRepository {
	return &AuthorityRepository{db: db}
}

// ReplaceGroup soft-deletes the group's previous entities and inserts the
// freshly resolved set, in one transaction.
func (r *AuthorityRepository) ReplaceGroup(ctx context.Context, appName, groupName string, entities []authority.Entity) error {
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE system_auth SET deleted_at = NOW()
			WHERE app_name = $1 AND group_name = $2 AND deleted_at IS NULL
		`, appName, groupName); err != nil {
			return err
		}
		for _, e := range entities {
			if _, err := tx.Exec(ctx, `
				INSERT INTO system_auth (auth, scope, group_name, app_name, deleted_at)
				VALUES ($1, $2, $3, $4, NULL)
				ON CONFLICT (app_name, group_name, auth)
				DO UPDATE SET scope = EXCLUDED.scope, deleted_at = NULL
			`, e.Auth, e.Scope, groupName, appName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace authority group %q: %w", groupName, err)
	}
	return nil
}
