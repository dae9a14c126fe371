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
	"fmt"
	"log/slog"

	"github.com/tenantgate/tenantgate/internal/session"
)

// PermissionChecker is the slice of the permission engine the guard needs.
type PermissionChecker interface {
	HasPermission(ctx context.Context, ident *session.Identity, authKey, scope string, targetID int64) (bool, error)
}

// Guard evaluates the declared authority requirement of an operation
// against the caller's identity before the operation executes. It never
// mutates permission state; its only output is the allow/deny decision.
type Guard struct {
	index  *Index
	scopes *ScopeRegistry
	perms  PermissionChecker
}

// NewGuard creates a guard over a built index.
func NewGuard(index *Index, scopes *ScopeRegistry, perms PermissionChecker) *Guard {
	return &Guard{index: index, scopes: scopes, perms: perms}
}

// Authorize decides whether the identified caller may invoke the operation
// (owner, name) with the given arguments. A nil return allows the call;
// otherwise the error is ErrNoAuthority, ErrMissingUser or
// ErrScopeNotFound (possibly wrapped). Any ambiguity resolves to deny.
func (g *Guard) Authorize(ctx context.Context, ident *session.Identity, owner, name string, args []any) error {
	op := g.index.ByOperation(owner, name)
	if op == nil {
		// Configuration defect: the operation was exposed without ever
		// being indexed. Fail closed.
		slog.ErrorContext(ctx, "operation missing from authority index",
			slog.String("owner", owner), slog.String("operation", name))
		return fmt.Errorf("%w: no authority declaration for %s::%s", ErrNoAuthority, owner, name)
	}
	req := op.Requirement

	scope, err := g.scopes.Ensured(req.Scope)
	if err != nil {
		return err
	}

	// Guest operations are open to everyone, authenticated or not.
	if scope.IsGuest() {
		return nil
	}

	if !ident.HasSession() {
		return fmt.Errorf("%w: %s:%s", ErrMissingUser, op.Entity.Scope, op.Entity.Auth)
	}

	source := argAt(args, req.ParamIndex)

	// Declared targets resolve before anything else is consulted. An
	// unresolvable target is terminal; no capability can rescue it.
	targetIDs, err := g.resolveTargets(ctx, op, scope, source)
	if err != nil {
		return err
	}

	// Special capabilities may settle the decision before any role data is
	// consulted. The rejecter wins when both fire.
	if rejected, err := req.Rejecter.Reject(ctx, ident, source); err != nil {
		return err
	} else if rejected {
		return fmt.Errorf("%w: rejected by special rule", ErrNoAuthority)
	}
	if allowed, err := req.Checker.Check(ctx, ident, source); err != nil {
		return err
	} else if allowed {
		return nil
	}

	if scope.RequiresTargetCheck() {
		return g.checkTargets(ctx, ident, op, scope, targetIDs)
	}

	ok, err := g.perms.HasPermission(ctx, ident, op.Entity.Auth, scope.Name(), 0)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrNoAuthority, op.Entity.Scope, op.Entity.Auth)
	}
	return nil
}

// resolveTargets parses the declared target ids from the operation
// argument. Returns nil for scopes without target semantics.
func (g *Guard) resolveTargets(ctx context.Context, op *Operation, scope *Scope, source any) ([]int64, error) {
	req := op.Requirement
	if !scope.RequiresTargetCheck() {
		return nil, nil
	}
	if source == nil {
		return nil, fmt.Errorf("%w: target argument unavailable for %s", ErrNoAuthority, op.Entity.Auth)
	}
	if !IsNoopMultiParser(req.MultiParser) {
		targetIDs, err := req.MultiParser.TargetIDs(ctx, source)
		if err != nil {
			return nil, err
		}
		if len(targetIDs) == 0 {
			return nil, fmt.Errorf("%w: no target ids resolved for %s", ErrNoAuthority, op.Entity.Auth)
		}
		return targetIDs, nil
	}
	targetID, ok, err := req.Parser.TargetID(ctx, source)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: target id unresolvable for %s", ErrNoAuthority, op.Entity.Auth)
	}
	return []int64{targetID}, nil
}

// checkTargets verifies the caller's grant on every resolved target. By
// default the caller must hold all of them; with MultipleChoiceEnabled
// holding any one suffices (the workflow transition then waits until every
// target has been covered across executions).
func (g *Guard) checkTargets(ctx context.Context, ident *session.Identity, op *Operation, scope *Scope, targetIDs []int64) error {
	req := op.Requirement
	held := 0
	for _, id := range targetIDs {
		granted, err := g.perms.HasPermission(ctx, ident, op.Entity.Auth, scope.Name(), id)
		if err != nil {
			return err
		}
		if granted {
			held++
		} else if !req.MultipleChoiceEnabled {
			return fmt.Errorf("%w: %s:%s target %d", ErrNoAuthority, op.Entity.Scope, op.Entity.Auth, id)
		}
	}
	if held == 0 {
		return fmt.Errorf("%w: %s:%s no declared target held", ErrNoAuthority, op.Entity.Scope, op.Entity.Auth)
	}
	return nil
}

func argAt(args []any, index int) any {
	if index < 0 || index >= len(args) {
		return nil
	}
	return args[index]
}
