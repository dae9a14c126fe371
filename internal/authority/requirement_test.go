package authority

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantgate/tenantgate/internal/session"
)

func TestNewRequirementDefaults(t *testing.T) {
	req := NewRequirement(ScopeSystem)

	assert.Equal(t, ScopeSystem, req.Scope)
	assert.Equal(t, -1, req.ParamIndex)
	assert.True(t, IsNoopParser(req.Parser))
	assert.True(t, IsNoopMultiParser(req.MultiParser))
	assert.False(t, req.MultipleChoiceEnabled)

	// Defaults never fire.
	rejected, err := req.Rejecter.Reject(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, rejected)
	allowed, err := req.Checker.Check(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRequirementNormalize(t *testing.T) {
	req := &Requirement{Scope: ScopeSystem}
	req.normalize()

	assert.NotNil(t, req.Parser)
	assert.NotNil(t, req.MultiParser)
	assert.NotNil(t, req.MultiCleaner)
	assert.NotNil(t, req.Checker)
	assert.NotNil(t, req.Rejecter)
}

func TestEveryoneChecker(t *testing.T) {
	ok, err := EveryoneChecker{}.Check(context.Background(), &session.Identity{UserID: 7}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EveryoneChecker{}.Check(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCapabilities(t *testing.T) {
	caps := NewCapabilities()

	t.Run("stock everyone checker is preloaded", func(t *testing.T) {
		c, err := caps.Checker("everyone")
		require.NoError(t, err)
		assert.NotNil(t, c)
	})

	t.Run("unregistered names fail", func(t *testing.T) {
		_, err := caps.Parser("path_id")
		assert.Error(t, err)
		_, err = caps.Checker("owner")
		assert.Error(t, err)
		_, err = caps.Rejecter("blocked")
		assert.Error(t, err)
	})

	t.Run("registered capabilities resolve", func(t *testing.T) {
		caps.RegisterParser("always_one", parseAlways{})
		caps.RegisterChecker("allow", allowAll{})
		caps.RegisterRejecter("deny", rejectAll{})

		p, err := caps.Parser("always_one")
		require.NoError(t, err)
		id, ok, err := p.TargetID(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1), id)

		_, err = caps.Checker("allow")
		assert.NoError(t, err)
		_, err = caps.Rejecter("deny")
		assert.NoError(t, err)
	})
}
