package authority

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrScopeNotFound = errors.New("authority scope not found")
	ErrNoAuthority   = errors.New("no authority")
	ErrMissingUser   = errors.New("anonymous access not allowed")
)

// Scope name constants. Exactly these three scopes exist.
const (
	ScopeGuest     = "Guest"
	ScopeSystem    = "System"
	ScopeSubsystem = "Subsystem"
)

type scopeType int

const (
	guestScope scopeType = iota
	systemScope
	subsystemScope
)

// Scope describes the breadth of an authorization check: Guest (no check),
// System (tenant-wide) or Subsystem (per-target).
type Scope struct {
	name    string
	display string
	typ     scopeType
}

func (s *Scope) Name() string    { return s.name }
func (s *Scope) Display() string { return s.display }

func (s *Scope) IsGuest() bool     { return s.typ == guestScope }
func (s *Scope) IsSystem() bool    { return s.typ == systemScope }
func (s *Scope) IsSubsystem() bool { return s.typ == subsystemScope }

// RequiresTargetCheck reports whether operations under this scope must be
// evaluated against a concrete target id. Only Subsystem does.
func (s *Scope) RequiresTargetCheck() bool {
	return s.IsSubsystem()
}

// ScopeRegistry is the fixed catalogue of authorization scopes. It is
// populated at construction and never mutated afterwards.
type ScopeRegistry struct {
	scopes map[string]*Scope
}

// NewScopeRegistry returns the registry holding the three built-in scopes.
func NewScopeRegistry() *ScopeRegistry {
	return &ScopeRegistry{
		scopes: map[string]*Scope{
			ScopeGuest:     {name: ScopeGuest, display: "anonymous access", typ: guestScope},
			ScopeSystem:    {name: ScopeSystem, display: "tenant wide", typ: systemScope},
			ScopeSubsystem: {name: ScopeSubsystem, display: "business subsystem", typ: subsystemScope},
		},
	}
}

// Get returns the named scope, if it exists.
func (r *ScopeRegistry) Get(name string) (*Scope, bool) {
	s, ok := r.scopes[name]
	return s, ok
}

// Ensured returns the named scope or ErrScopeNotFound. An unknown scope
// name at request time is a server defect, not a client error.
func (r *ScopeRegistry) Ensured(name string) (*Scope, error) {
	s, ok := r.scopes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrScopeNotFound, name)
	}
	return s, nil
}

// All returns every registered scope.
func (r *ScopeRegistry) All() []*Scope {
	out := make([]*Scope, 0, len(r.scopes))
	for _, s := range r.scopes {
		out = append(out, s)
	}
	return out
}
