package permission

import "context"

// TargetSet is the outcome of a scope-target query. All marks unrestricted
// access and is distinct from an empty id set: callers must never conflate
// "no targets" with "every target".
type TargetSet struct {
	All bool
	IDs []int64
}

// Contains reports whether the set covers the given target id.
func (s TargetSet) Contains(id int64) bool {
	if s.All {
		return true
	}
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// Empty reports whether the set grants nothing.
func (s TargetSet) Empty() bool {
	return !s.All && len(s.IDs) == 0
}

// ScopeTarget is one (scopeType, scopeId) row from a user's role
// assignments.
type ScopeTarget struct {
	ScopeType string
	ScopeID   int64
}

// ScopeUser is one (scopeType, userId) row from a reverse authorization
// lookup.
type ScopeUser struct {
	ScopeType string
	UserID    int64
}

// Store is the role/assignment slice of the permission store. Queries are
// pure reads, safe to run concurrently and to retry.
type Store interface {
	// UserFeatureIDs returns the feature ids reachable through the user's
	// enabled roles.
	UserFeatureIDs(ctx context.Context, userID int64) ([]int64, error)

	// ScopeTargets returns the (scopeType, scopeId) rows the user holds for
	// any of the feature ids, optionally filtered to one scope type.
	// limitOne turns the query into an existence probe.
	ScopeTargets(ctx context.Context, userID int64, featureIDs []int64, scopeType string, limitOne bool) ([]ScopeTarget, error)

	// AuthedUsers returns the (scopeType, userId) rows of every user whose
	// role assignment covers any of the target ids for any of the features.
	AuthedUsers(ctx context.Context, targetIDs, featureIDs []int64) ([]ScopeUser, error)
}

// FeatureStore is the tenant feature-grant slice of the permission store.
// Permission is always tenant-scoped: a feature not granted to the acting
// tenant yields no permission regardless of role data.
type FeatureStore interface {
	// AuthTenantFeatureIDs returns the tenant-granted feature ids that
	// carry any of the given auth keys.
	AuthTenantFeatureIDs(ctx context.Context, tenant string, authKeys ...string) ([]int64, error)

	// TenantFeatureIDs returns every feature id granted to the tenant.
	TenantFeatureIDs(ctx context.Context, tenant string) ([]int64, error)

	// TenantAuthKeys returns the auth keys granted to the tenant through
	// the given features.
	TenantAuthKeys(ctx context.Context, tenant string, featureIDs ...int64) ([]string, error)

	// TenantAllAuthKeys returns every auth key granted to the tenant.
	TenantAllAuthKeys(ctx context.Context, tenant string) ([]string, error)

	// CheckTenantAuth reports whether the tenant holds a feature granting
	// the auth key.
	CheckTenantAuth(ctx context.Context, tenant, authKey string) (bool, error)
}

// SuperTenantChecker identifies the distinguished super tenant whose
// administrators bypass tenant feature gating.
type SuperTenantChecker interface {
	IsSuperTenant(code string) bool
}
