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

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/session"
)

// DefaultSuperTenant is the super tenant code used when none is configured.
const DefaultSuperTenant = "platform.super"

// Service provides tenant lookup and database-record administration.
type Service struct {
	repo        Repository
	superTenant string
	auditLogger audit.Logger
}

// NewService creates a tenant service. An empty superTenant falls back to
// DefaultSuperTenant.
func NewService(repo Repository, superTenant string, auditLogger audit.Logger) *Service {
	if superTenant == "" {
		superTenant = DefaultSuperTenant
	}
	return &Service{repo: repo, superTenant: superTenant, auditLogger: auditLogger}
}

// SuperTenant returns the configured super tenant code.
func (s *Service) SuperTenant() string { return s.superTenant }

// IsSuperTenant reports whether the code names the super tenant.
func (s *Service) IsSuperTenant(code string) bool {
	return code != "" && code == s.superTenant
}

// InSuperTenantContext reports whether the identity belongs to the super
// tenant.
func (s *Service) InSuperTenantContext(ident *session.Identity) bool {
	return s.IsSuperTenant(ident.TenantCode())
}

// CheckEnabled reports whether the tenant exists and is enabled.
func (s *Service) CheckEnabled(ctx context.Context, code string) (bool, error) {
	return s.repo.CheckEnabled(ctx, code)
}

// CreateIfMissing inserts the tenant unless it already exists, optionally
// granting it every known feature.
func (s *Service) CreateIfMissing(ctx context.Context, code, name string, grantAllFeatures bool) error {
	if code == "" {
		return fmt.Errorf("tenant code is required")
	}
	if err := s.repo.CreateIfMissing(ctx, code, name, grantAllFeatures); err != nil {
		return err
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: code,
		Resource: name,
		Metadata: map[string]any{"all_features": grantAllFeatures},
	})
	return nil
}

// DatabaseWithToken returns the named database record of a tenant with the
// encrypted credential included. Only the datasource router should consume
// this; listings go through Databases.
func (s *Service) DatabaseWithToken(ctx context.Context, tenant, name string) (*DBInfo, error) {
	if tenant == "" || name == "" {
		return nil, fmt.Errorf("%w: tenant %q db %q", ErrDBInfoNotFound, tenant, name)
	}
	return s.repo.DBInfoByName(ctx, tenant, name)
}

// Databases lists the database records of the given tenants with
// credentials redacted.
func (s *Service) Databases(ctx context.Context, tenantIDs ...int64) ([]*DBInfo, error) {
	if len(tenantIDs) == 0 {
		return nil, nil
	}
	return s.repo.DBInfosByTenantIDs(ctx, tenantIDs...)
}

// AddDatabases inserts database records for a tenant, rejecting duplicate
// names both within the batch and against existing records.
func (s *Service) AddDatabases(ctx context.Context, tenantID int64, databases []*DBInfo) error {
	if len(databases) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(databases))
	var valid []*DBInfo
	for _, db := range databases {
		if db == nil {
			continue
		}
		if db.Name == "" || db.URL == "" || db.Driver == "" {
			return fmt.Errorf("tenant database record incomplete (%q)", db.Name)
		}
		if _, dup := seen[db.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDBInfoDuplicate, db.Name)
		}
		if _, err := s.repo.DBInfoByName(ctx, fmt.Sprintf("%d", tenantID), db.Name); err == nil {
			return fmt.Errorf("%w: %q", ErrDBInfoDuplicate, db.Name)
		} else if !errors.Is(err, ErrDBInfoNotFound) {
			return fmt.Errorf("checking existing tenant database %q: %w", db.Name, err)
		}
		seen[db.Name] = struct{}{}
		valid = append(valid, db)
	}
	if err := s.repo.AddDBInfos(ctx, tenantID, valid); err != nil {
		return err
	}
	for _, db := range valid {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeDBInfoAdded,
			TenantID: fmt.Sprintf("%d", tenantID),
			Resource: db.Name,
		})
	}
	return nil
}

// DeleteDatabases removes named database records of a tenant.
func (s *Service) DeleteDatabases(ctx context.Context, tenantID int64, names []string) error {
	var valid []string
	for _, name := range names {
		if name != "" {
			valid = append(valid, name)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	if err := s.repo.DeleteDBInfos(ctx, tenantID, valid); err != nil {
		return err
	}
	for _, name := range valid {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeDBInfoDeleted,
			TenantID: fmt.Sprintf("%d", tenantID),
			Resource: name,
		})
	}
	return nil
}
