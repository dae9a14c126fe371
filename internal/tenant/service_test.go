package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/session"
)

type recordingRepo struct {
	fakeRepo
	added   []*DBInfo
	deleted []string
}

func (r *recordingRepo) AddDBInfos(_ context.Context, _ int64, infos []*DBInfo) error {
	r.added = append(r.added, infos...)
	return nil
}

func (r *recordingRepo) DeleteDBInfos(_ context.Context, _ int64, names []string) error {
	r.deleted = append(r.deleted, names...)
	return nil
}

// flakyRepo fails every duplicate-name lookup with a transient error.
type flakyRepo struct {
	recordingRepo
}

func (r *flakyRepo) DBInfoByName(context.Context, string, string) (*DBInfo, error) {
	return nil, errors.New("connection reset")
}

func TestServiceSuperTenant(t *testing.T) {
	s := NewService(&fakeRepo{}, "", audit.Nop{})
	assert.Equal(t, DefaultSuperTenant, s.SuperTenant())
	assert.True(t, s.IsSuperTenant(DefaultSuperTenant))
	assert.False(t, s.IsSuperTenant("acme"))
	assert.False(t, s.IsSuperTenant(""))

	assert.True(t, s.InSuperTenantContext(&session.Identity{Tenant: DefaultSuperTenant}))
	assert.False(t, s.InSuperTenantContext(nil))

	custom := NewService(&fakeRepo{}, "corp.root", audit.Nop{})
	assert.True(t, custom.IsSuperTenant("corp.root"))
	assert.False(t, custom.IsSuperTenant(DefaultSuperTenant))
}

func TestServiceAddDatabases(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects duplicates within the batch", func(t *testing.T) {
		repo := &recordingRepo{fakeRepo: fakeRepo{infos: map[string]*DBInfo{}}}
		s := NewService(repo, "", audit.Nop{})

		err := s.AddDatabases(ctx, 1, []*DBInfo{
			{Name: "main", Driver: "postgres", URL: "postgres://a"},
			{Name: "main", Driver: "postgres", URL: "postgres://b"},
		})
		assert.ErrorIs(t, err, ErrDBInfoDuplicate)
		assert.Empty(t, repo.added)
	})

	t.Run("rejects duplicates against existing records", func(t *testing.T) {
		repo := &recordingRepo{fakeRepo: fakeRepo{infos: map[string]*DBInfo{
			"1/main": {TenantID: 1, Name: "main"},
		}}}
		s := NewService(repo, "", audit.Nop{})

		err := s.AddDatabases(ctx, 1, []*DBInfo{
			{Name: "main", Driver: "postgres", URL: "postgres://a"},
		})
		assert.ErrorIs(t, err, ErrDBInfoDuplicate)
	})

	t.Run("propagates store failures from the duplicate lookup", func(t *testing.T) {
		repo := &flakyRepo{}
		s := NewService(repo, "", audit.Nop{})

		err := s.AddDatabases(ctx, 1, []*DBInfo{
			{Name: "main", Driver: "postgres", URL: "postgres://a"},
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrDBInfoDuplicate)
		assert.Empty(t, repo.added)
	})

	t.Run("rejects incomplete records", func(t *testing.T) {
		repo := &recordingRepo{fakeRepo: fakeRepo{infos: map[string]*DBInfo{}}}
		s := NewService(repo, "", audit.Nop{})

		err := s.AddDatabases(ctx, 1, []*DBInfo{{Name: "main"}})
		assert.Error(t, err)
		assert.Empty(t, repo.added)
	})

	t.Run("stores valid records", func(t *testing.T) {
		repo := &recordingRepo{fakeRepo: fakeRepo{infos: map[string]*DBInfo{}}}
		s := NewService(repo, "", audit.Nop{})

		err := s.AddDatabases(ctx, 1, []*DBInfo{
			{Name: "main", Driver: "postgres", URL: "postgres://a", Token: "sealed"},
			{Name: "reporting", Driver: "postgres", URL: "postgres://b"},
		})
		require.NoError(t, err)
		assert.Len(t, repo.added, 2)
	})
}

func TestServiceDeleteDatabases(t *testing.T) {
	ctx := context.Background()
	repo := &recordingRepo{fakeRepo: fakeRepo{infos: map[string]*DBInfo{}}}
	s := NewService(repo, "", audit.Nop{})

	require.NoError(t, s.DeleteDatabases(ctx, 1, []string{"", "reporting", ""}))
	assert.Equal(t, []string{"reporting"}, repo.deleted)

	require.NoError(t, s.DeleteDatabases(ctx, 1, []string{"", ""}))
	assert.Len(t, repo.deleted, 1)
}
