package project

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return NewService(s)
}

var (
	admin = models.Identity{UserID: "a", Role: models.RoleAdmin}
	dev   = models.Identity{UserID: "d", Role: models.RoleDeveloper}
)

func TestCreate_AdminOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, dev, "web", "")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	p, err := svc.Create(ctx, admin, "  web ", " site ")
	require.NoError(t, err)
	assert.Equal(t, "web", p.Name)
	assert.Equal(t, "site", p.Description)

	_, err = svc.Create(ctx, admin, "  ", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListAndResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	empty, err := svc.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	web, err := svc.Create(ctx, admin, "web", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, admin, "api", "")
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "api", list[0].Name)

	got, err := svc.Resolve(ctx, web.ID)
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)

	got, err = svc.Resolve(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, web.ID, got.ID)

	_, err = svc.Resolve(ctx, "mobile")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	web, err := svc.Create(ctx, admin, "web", "site")
	require.NoError(t, err)

	name := "frontend"
	_, err = svc.Update(ctx, dev, "web", &name, nil)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	got, err := svc.Update(ctx, admin, "web", &name, nil)
	require.NoError(t, err)
	assert.Equal(t, web.ID, got.ID)
	assert.Equal(t, "frontend", got.Name)
	assert.Equal(t, "site", got.Description)

	desc := " public site "
	got, err = svc.Update(ctx, admin, web.ID, nil, &desc)
	require.NoError(t, err)
	assert.Equal(t, "frontend", got.Name)
	assert.Equal(t, "public site", got.Description)

	blank := " "
	_, err = svc.Update(ctx, admin, web.ID, &blank, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Update(ctx, admin, "web", &name, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, admin, "web", "")
	require.NoError(t, err)

	_, err = svc.Delete(ctx, dev, "web")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	p, err := svc.Delete(ctx, admin, "web")
	require.NoError(t, err)
	assert.Equal(t, "web", p.Name)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.Delete(ctx, admin, "web")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
