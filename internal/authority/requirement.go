package authority

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenantgate/tenantgate/internal/session"
)

// TargetIDParser resolves the declared operation argument into the numeric
// target id a Subsystem-scoped check is evaluated against. ok is false when
// no target can be extracted from the source.
type TargetIDParser interface {
	TargetID(ctx context.Context, source any) (id int64, ok bool, err error)
}

// MultiTargetParser resolves the declared operation argument into the full
// set of target ids a workflow transition must cover.
type MultiTargetParser interface {
	TargetIDs(ctx context.Context, source any) ([]int64, error)
}

// MultiTargetCleaner decides which recorded per-event target coverage to
// discard when a workflow instance rolls back. A nil or empty result means
// clear everything.
type MultiTargetCleaner interface {
	CleanEvents(ctx context.Context, source any) ([]string, error)
}

// SpecialChecker may short-circuit the role-based check and grant access.
type SpecialChecker interface {
	Check(ctx context.Context, ident *session.Identity, source any) (bool, error)
}

// SpecialRejecter may short-circuit the role-based check and deny access.
// When both a checker and a rejecter fire, the rejecter wins.
type SpecialRejecter interface {
	Reject(ctx context.Context, ident *session.Identity, source any) (bool, error)
}

// No-op capability defaults. A Subsystem-scoped operation left with the
// no-op parser is a configuration error caught at index build time.

type noopTargetIDParser struct{}

func (noopTargetIDParser) TargetID(context.Context, any) (int64, bool, error) {
	return 0, false, nil
}

type noopMultiTargetParser struct{}

func (noopMultiTargetParser) TargetIDs(context.Context, any) ([]int64, error) { return nil, nil }

type noopMultiTargetCleaner struct{}

func (noopMultiTargetCleaner) CleanEvents(context.Context, any) ([]string, error) { return nil, nil }

type noopSpecialChecker struct{}

func (noopSpecialChecker) Check(context.Context, *session.Identity, any) (bool, error) {
	return false, nil
}

type noopSpecialRejecter struct{}

func (noopSpecialRejecter) Reject(context.Context, *session.Identity, any) (bool, error) {
	return false, nil
}

// EveryoneChecker grants any authenticated user, regardless of role data.
type EveryoneChecker struct{}

func (EveryoneChecker) Check(_ context.Context, ident *session.Identity, _ any) (bool, error) {
	return ident.HasSession(), nil
}

// IsNoopParser reports whether p is absent or the no-op default.
func IsNoopParser(p TargetIDParser) bool {
	if p == nil {
		return true
	}
	_, ok := p.(noopTargetIDParser)
	return ok
}

// IsNoopMultiParser reports whether p is absent or the no-op default.
func IsNoopMultiParser(p MultiTargetParser) bool {
	if p == nil {
		return true
	}
	_, ok := p.(noopMultiTargetParser)
	return ok
}

// Requirement is the authorization declaration attached to exactly one
// operation. It is populated via registration at startup and read-only at
// runtime.
type Requirement struct {
	// Scope is a key into the ScopeRegistry.
	Scope string

	// ParamIndex locates the operation argument the target id is parsed
	// from. -1 means the operation carries no target parameter.
	ParamIndex int

	Parser       TargetIDParser
	MultiParser  MultiTargetParser
	MultiCleaner MultiTargetCleaner
	Checker      SpecialChecker
	Rejecter     SpecialRejecter

	// MultipleChoiceEnabled relaxes the multi-target rule from all-of to
	// any-of: holding any one declared target suffices to execute, and the
	// workflow transition completes once every target has been covered.
	MultipleChoiceEnabled bool
}

// NewRequirement returns a requirement for the given scope with every
// capability set to its no-op default and no target parameter.
func NewRequirement(scope string) *Requirement {
	return &Requirement{
		Scope:        scope,
		ParamIndex:   -1,
		Parser:       noopTargetIDParser{},
		MultiParser:  noopMultiTargetParser{},
		MultiCleaner: noopMultiTargetCleaner{},
		Checker:      noopSpecialChecker{},
		Rejecter:     noopSpecialRejecter{},
	}
}

// WithTarget declares the target parameter position and its parser.
func (r *Requirement) WithTarget(paramIndex int, parser TargetIDParser) *Requirement {
	r.ParamIndex = paramIndex
	r.Parser = parser
	return r
}

// WithMultiTarget declares the multi-target parser and choice mode.
func (r *Requirement) WithMultiTarget(paramIndex int, parser MultiTargetParser, anyOf bool) *Requirement {
	r.ParamIndex = paramIndex
	r.MultiParser = parser
	r.MultipleChoiceEnabled = anyOf
	return r
}

// WithChecker declares a special allow capability.
func (r *Requirement) WithChecker(c SpecialChecker) *Requirement {
	r.Checker = c
	return r
}

// WithRejecter declares a special deny capability.
func (r *Requirement) WithRejecter(c SpecialRejecter) *Requirement {
	r.Rejecter = c
	return r
}

// normalize fills nil capability slots with their no-op defaults so the
// guard never has to nil-check.
func (r *Requirement) normalize() {
	if r.Parser == nil {
		r.Parser = noopTargetIDParser{}
	}
	if r.MultiParser == nil {
		r.MultiParser = noopMultiTargetParser{}
	}
	if r.MultiCleaner == nil {
		r.MultiCleaner = noopMultiTargetCleaner{}
	}
	if r.Checker == nil {
		r.Checker = noopSpecialChecker{}
	}
	if r.Rejecter == nil {
		r.Rejecter = noopSpecialRejecter{}
	}
}

// Capabilities is a registry resolving parser/checker/rejecter
// implementations by stable identifier. Configuration-driven requirement
// declarations reference capabilities by these names instead of concrete
// types.
type Capabilities struct {
	mu        sync.RWMutex
	parsers   map[string]TargetIDParser
	multi     map[string]MultiTargetParser
	cleaners  map[string]MultiTargetCleaner
	checkers  map[string]SpecialChecker
	rejecters map[string]SpecialRejecter
}

// NewCapabilities returns a registry preloaded with the stock capabilities.
func NewCapabilities() *Capabilities {
	c := &Capabilities{
		parsers:   make(map[string]TargetIDParser),
		multi:     make(map[string]MultiTargetParser),
		cleaners:  make(map[string]MultiTargetCleaner),
		checkers:  make(map[string]SpecialChecker),
		rejecters: make(map[string]SpecialRejecter),
	}
	c.RegisterChecker("everyone", EveryoneChecker{})
	return c
}

func (c *Capabilities) RegisterParser(name string, p TargetIDParser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parsers[name] = p
}

func (c *Capabilities) RegisterMultiParser(name string, p MultiTargetParser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.multi[name] = p
}

func (c *Capabilities) RegisterCleaner(name string, p MultiTargetCleaner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleaners[name] = p
}

func (c *Capabilities) RegisterChecker(name string, p SpecialChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkers[name] = p
}

func (c *Capabilities) RegisterRejecter(name string, p SpecialRejecter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejecters[name] = p
}

// Parser resolves a registered parser by name.
func (c *Capabilities) Parser(name string) (TargetIDParser, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.parsers[name]
	if !ok {
		return nil, fmt.Errorf("target id parser %q not registered", name)
	}
	return p, nil
}

// Checker resolves a registered special checker by name.
func (c *Capabilities) Checker(name string) (SpecialChecker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.checkers[name]
	if !ok {
		return nil, fmt.Errorf("special checker %q not registered", name)
	}
	return p, nil
}

// Rejecter resolves a registered special rejecter by name.
func (c *Capabilities) Rejecter(name string) (SpecialRejecter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.rejecters[name]
	if !ok {
		return nil, fmt.Errorf("special rejecter %q not registered", name)
	}
	return p, nil
}
