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

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ConfigGroupInterface is the logical group name under which the resolved
// interface authority set is persisted for configuration display.
const ConfigGroupInterface = "::interface"

// Entity is the denormalized (scope, authKey, appName) record derived from
// a resolved operation; the auth key is the operation's route pattern.
type Entity struct {
	Scope   string
	Auth    string
	AppName string
}

// OperationInfo describes one exposed operation as enumerated by the
// hosting framework after route registration.
type OperationInfo struct {
	Owner       string
	Name        string
	Patterns    []string
	Methods     []string
	Requirement *Requirement
}

func (o OperationInfo) key() string { return o.Owner + "::" + o.Name }

// RouteCatalog enumerates every exposed operation with its declared
// requirement. Produced by route registration, consumed once at startup.
type RouteCatalog interface {
	Operations() []OperationInfo
}

// AuditPersistence stores the resolved authority set for audit and
// configuration display, replacing the previous set for the group.
type AuditPersistence interface {
	ReplaceGroup(ctx context.Context, appName, groupName string, entities []Entity) error
}

// Operation is a resolved index entry: the persisted entity plus the
// declared requirement consulted at request time.
type Operation struct {
	Entity      Entity
	Requirement *Requirement
}

// Index maps every exposed operation to its authorization declaration.
// Built exactly once before any request is admitted; read-only afterwards,
// so lookups need no locking.
type Index struct {
	byOperation map[string]*Operation
}

// ByOperation returns the resolved entry for (owner, name), or nil when
// the operation was never indexed.
func (x *Index) ByOperation(owner, name string) *Operation {
	return x.byOperation[owner+"::"+name]
}

// Size returns the number of indexed operations.
func (x *Index) Size() int { return len(x.byOperation) }

// BuildIndex scans the catalog, validates every declaration, persists the
// resolved authority set, and returns the request-time lookup index.
//
// Validation never aborts on the first defect: every offending operation is
// collected and the build fails with a single aggregated error, so a
// partially wired authorization surface can never go live silently.
func BuildIndex(ctx context.Context, catalog RouteCatalog, scopes *ScopeRegistry, store AuditPersistence, appName string) (*Index, error) {
	var errs []error

	byOperation := make(map[string]*Operation)
	byPattern := make(map[string]string) // pattern -> owning operation key
	var entities []Entity

	for _, op := range catalog.Operations() {
		req := op.Requirement
		if req == nil {
			errs = append(errs, fmt.Errorf("operation %s declares no authority requirement", op.key()))
			continue
		}
		req.normalize()

		scope, ok := scopes.Get(req.Scope)
		if !ok {
			errs = append(errs, fmt.Errorf("operation %s declares unknown authority scope %q", op.key(), req.Scope))
			continue
		}
		if scope.RequiresTargetCheck() && IsNoopParser(req.Parser) && IsNoopMultiParser(req.MultiParser) {
			errs = append(errs, fmt.Errorf("operation %s requires a target check but declares no target id parser", op.key()))
			continue
		}
		if len(op.Methods) == 0 {
			errs = append(errs, fmt.Errorf("operation %s declares no request methods", op.key()))
			continue
		}

		for _, pattern := range op.Patterns {
			if owner, dup := byPattern[pattern]; dup {
				errs = append(errs, fmt.Errorf("operation %s binds route %q already claimed by %s", op.key(), pattern, owner))
				continue
			}
			byPattern[pattern] = op.key()

			entity := Entity{Scope: req.Scope, Auth: pattern, AppName: appName}
			entities = append(entities, entity)
			if _, seen := byOperation[op.key()]; !seen {
				byOperation[op.key()] = &Operation{Entity: entity, Requirement: req}
			}
		}
	}

	if err := store.ReplaceGroup(ctx, appName, ConfigGroupInterface, entities); err != nil {
		errs = append(errs, fmt.Errorf("persisting resolved authority set: %w", err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("authority index build failed: %w", errors.Join(errs...))
	}

	slog.InfoContext(ctx, "authority index built",
		slog.Int("operations", len(byOperation)),
		slog.Int("entities", len(entities)),
	)
	return &Index{byOperation: byOperation}, nil
}
