package session

import "context"

// Identity is the verified caller identity for one request. It is carried
// explicitly on the context; nothing in this module reads ambient global
// session state.
type Identity struct {
	UserID   int64
	Username string
	Tenant   string
	Admin    bool
}

// HasSession reports whether an authenticated user is present. A request
// may carry a tenant without a user (anonymous tenant traffic); that does
// not count as a session.
func (id *Identity) HasSession() bool {
	return id != nil && id.UserID > 0
}

// TenantCode returns the tenant code, or "" for a nil identity.
func (id *Identity) TenantCode() string {
	if id == nil {
		return ""
	}
	return id.Tenant
}

// IsAdmin reports whether the identity is a tenant administrator.
func (id *Identity) IsAdmin() bool {
	return id != nil && id.Admin
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext retrieves the identity from the context, or nil when the
// request is anonymous.
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(contextKey{}).(*Identity); ok {
		return id
	}
	return nil
}
