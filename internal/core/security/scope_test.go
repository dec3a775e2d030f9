package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	appctx "clinicstock/internal/core/context"
	"clinicstock/internal/core/id"
)

func TestResolveCenter_Manager(t *testing.T) {
	center := id.New()
	other := id.New()
	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{
		UserID: "u1", Role: appctx.RoleManager, CenterID: center.String(),
	})
	scope := GetScope(ctx)

	got, err := scope.ResolveCenter("")
	require.NoError(t, err)
	assert.Equal(t, center, got)

	got, err = scope.ResolveCenter(center.String())
	require.NoError(t, err)
	assert.Equal(t, center, got)

	_, err = scope.ResolveCenter(other.String())
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeForbidden, appErr.Code)
}

func TestResolveCenter_Admin(t *testing.T) {
	scope := &AccessScope{UserID: "a1", Role: appctx.RoleAdmin}

	_, err := scope.ResolveCenter("")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = scope.ResolveCenter("not-a-uuid")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	center := id.New()
	got, err := scope.ResolveCenter(center.String())
	require.NoError(t, err)
	assert.Equal(t, center, got)
}

func TestRequirePermission(t *testing.T) {
	manager := &AccessScope{UserID: "u1", Role: appctx.RoleManager}
	admin := &AccessScope{UserID: "a1", Role: appctx.RoleAdmin}
	anon := &AccessScope{}

	assert.NoError(t, manager.RequirePermission(PermissionDeliver))
	assert.True(t, apperror.HasCode(manager.RequirePermission(PermissionRunRollup), apperror.CodeForbidden))
	assert.NoError(t, admin.RequirePermission(PermissionRunRollup))
	assert.True(t, apperror.HasCode(admin.RequirePermission(PermissionDeliver), apperror.CodeForbidden))
	assert.True(t, apperror.HasCode(anon.RequirePermission(PermissionRead), apperror.CodeUnauthorized))
}

func TestClosedPeriodPolicy(t *testing.T) {
	ctx := context.Background()
	policy := NewClosedPeriodPolicy(calendar.Period{Year: 1402, Month: 3})

	assert.True(t, apperror.HasCode(policy.CanMutate(ctx, calendar.Period{Year: 1402, Month: 3}), apperror.CodePeriodClosed))
	assert.True(t, apperror.HasCode(policy.CanMutate(ctx, calendar.Period{Year: 1401, Month: 12}), apperror.CodePeriodClosed))
	assert.NoError(t, policy.CanMutate(ctx, calendar.Period{Year: 1402, Month: 4}))

	assert.NoError(t, NewClosedPeriodPolicy(calendar.Period{}).CanMutate(ctx, calendar.Period{Year: 1300, Month: 1}))
	assert.NoError(t, OpenPolicy{}.CanMutate(ctx, calendar.Period{Year: 1300, Month: 1}))
}
