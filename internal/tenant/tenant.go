package tenant

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrTenantMissing   = errors.New("tenant missing from call context")
	ErrDBInfoMissing   = errors.New("tenant database name missing")
	ErrDBInfoNotFound  = errors.New("tenant database not found")
	ErrDBInfoConnect   = errors.New("tenant database connect failed")
	ErrDBInfoDuplicate = errors.New("tenant database record duplicated")
	ErrTenantNotFound  = errors.New("tenant not found")
)

// DBInfoMain is the reserved name of a tenant's primary store.
const DBInfoMain = "main"

// RedactedToken replaces stored credentials in listing responses.
const RedactedToken = "******"

// Tenant is an isolated customer context.
type Tenant struct {
	ID        int64
	Code      string
	Name      string
	Status    string
	CreatedAt time.Time
}

// DBInfo is one named database connection record of a tenant. Token holds
// the encrypted credential; it is decrypted only at pool construction.
type DBInfo struct {
	TenantID int64
	Name     string
	Driver   string
	URL      string
	User     string
	Token    string
}

// Repository is the persistence interface for tenants and their database
// records.
type Repository interface {
	// DBInfoByName returns the named database record of a tenant (matched
	// by code or numeric id), with the encrypted token included.
	// ErrDBInfoNotFound when no single record matches.
	DBInfoByName(ctx context.Context, tenant, name string) (*DBInfo, error)

	// DBInfosByTenantIDs lists database records with tokens redacted.
	DBInfosByTenantIDs(ctx context.Context, tenantIDs ...int64) ([]*DBInfo, error)

	// AddDBInfos inserts database records transactionally.
	AddDBInfos(ctx context.Context, tenantID int64, infos []*DBInfo) error

	// DeleteDBInfos removes named database records transactionally.
	DeleteDBInfos(ctx context.Context, tenantID int64, names []string) error

	// CheckEnabled reports whether the tenant exists and is enabled.
	CheckEnabled(ctx context.Context, code string) (bool, error)

	// CreateIfMissing inserts the tenant unless it already exists,
	// optionally granting it every known feature.
	CreateIfMissing(ctx context.Context, code, name string, grantAllFeatures bool) error
}
