package authority

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	ops []OperationInfo
}

func (c stubCatalog) Operations() []OperationInfo { return c.ops }

type recordingStore struct {
	appName   string
	groupName string
	entities  []Entity
	err       error
}

func (s *recordingStore) ReplaceGroup(_ context.Context, appName, groupName string, entities []Entity) error {
	s.appName = appName
	s.groupName = groupName
	s.entities = entities
	return s.err
}

type parseAlways struct{}

func (parseAlways) TargetID(context.Context, any) (int64, bool, error) { return 1, true, nil }

func TestBuildIndex(t *testing.T) {
	ctx := context.Background()
	scopes := NewScopeRegistry()

	t.Run("builds and persists the resolved set", func(t *testing.T) {
		store := &recordingStore{}
		catalog := stubCatalog{ops: []OperationInfo{
			{
				Owner: "tenants", Name: "create",
				Patterns: []string{"/api/v1/tenants"}, Methods: []string{http.MethodPost},
				Requirement: NewRequirement(ScopeSystem),
			},
			{
				Owner: "subsystems", Name: "read",
				Patterns: []string{"/api/v1/subsystems/{id}"}, Methods: []string{http.MethodGet},
				Requirement: NewRequirement(ScopeSubsystem).WithTarget(0, parseAlways{}),
			},
		}}

		index, err := BuildIndex(ctx, catalog, scopes, store, "tenantgate")
		require.NoError(t, err)
		assert.Equal(t, 2, index.Size())

		op := index.ByOperation("tenants", "create")
		require.NotNil(t, op)
		assert.Equal(t, ScopeSystem, op.Entity.Scope)
		assert.Equal(t, "/api/v1/tenants", op.Entity.Auth)

		assert.Equal(t, "tenantgate", store.appName)
		assert.Equal(t, ConfigGroupInterface, store.groupName)
		assert.Len(t, store.entities, 2)
	})

	t.Run("missing requirement fails the build", func(t *testing.T) {
		catalog := stubCatalog{ops: []OperationInfo{
			{Owner: "tenants", Name: "create", Patterns: []string{"/t"}, Methods: []string{http.MethodPost}},
		}}
		_, err := BuildIndex(ctx, catalog, scopes, &recordingStore{}, "tenantgate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declares no authority requirement")
	})

	t.Run("unknown scope fails the build", func(t *testing.T) {
		catalog := stubCatalog{ops: []OperationInfo{
			{
				Owner: "tenants", Name: "create",
				Patterns: []string{"/t"}, Methods: []string{http.MethodPost},
				Requirement: NewRequirement("Project"),
			},
		}}
		_, err := BuildIndex(ctx, catalog, scopes, &recordingStore{}, "tenantgate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown authority scope")
	})

	t.Run("subsystem without a parser fails the build", func(t *testing.T) {
		catalog := stubCatalog{ops: []OperationInfo{
			{
				Owner: "subsystems", Name: "read",
				Patterns: []string{"/s"}, Methods: []string{http.MethodGet},
				Requirement: NewRequirement(ScopeSubsystem),
			},
		}}
		_, err := BuildIndex(ctx, catalog, scopes, &recordingStore{}, "tenantgate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no target id parser")
	})

	t.Run("duplicate pattern names both operations", func(t *testing.T) {
		catalog := stubCatalog{ops: []OperationInfo{
			{
				Owner: "tenants", Name: "create",
				Patterns: []string{"/dup"}, Methods: []string{http.MethodPost},
				Requirement: NewRequirement(ScopeSystem),
			},
			{
				Owner: "tenants", Name: "update",
				Patterns: []string{"/dup"}, Methods: []string{http.MethodPut},
				Requirement: NewRequirement(ScopeSystem),
			},
		}}
		_, err := BuildIndex(ctx, catalog, scopes, &recordingStore{}, "tenantgate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tenants::update")
		assert.Contains(t, err.Error(), "tenants::create")
	})

	t.Run("every defect is reported, not just the first", func(t *testing.T) {
		catalog := stubCatalog{ops: []OperationInfo{
			{Owner: "a", Name: "one", Patterns: []string{"/a"}, Methods: []string{http.MethodGet}},
			{
				Owner: "b", Name: "two",
				Patterns: []string{"/b"}, Methods: []string{http.MethodGet},
				Requirement: NewRequirement("Bogus"),
			},
		}}
		_, err := BuildIndex(ctx, catalog, scopes, &recordingStore{}, "tenantgate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a::one")
		assert.Contains(t, err.Error(), "b::two")
	})

	t.Run("persistence failure fails the build", func(t *testing.T) {
		store := &recordingStore{err: errors.New("database down")}
		catalog := stubCatalog{ops: []OperationInfo{
			{
				Owner: "tenants", Name: "create",
				Patterns: []string{"/t"}, Methods: []string{http.MethodPost},
				Requirement: NewRequirement(ScopeSystem),
			},
		}}
		_, err := BuildIndex(ctx, catalog, scopes, store, "tenantgate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database down")
	})

	t.Run("missing methods fail the build", func(t *testing.T) {
		catalog := stubCatalog{ops: []OperationInfo{
			{
				Owner: "tenants", Name: "create",
				Patterns:    []string{"/t"},
				Requirement: NewRequirement(ScopeSystem),
			},
		}}
		_, err := BuildIndex(ctx, catalog, scopes, &recordingStore{}, "tenantgate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no request methods")
	})
}
