package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/balancebook/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(dbtest.Open(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestStaffPolicies(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	allowed := [][2]string{
		{ObjectCustomer, ActionView},
		{ObjectOrder, ActionCreate},
		{ObjectOrder, ActionView},
		{ObjectSettings, ActionView},
		{ObjectStream, ActionView},
	}
	for _, rule := range allowed {
		assert.NoError(t, svc.Authorize(ctx, RoleStaff, rule[0], rule[1]), rule)
	}

	denied := [][2]string{
		{ObjectPayment, ActionCreate},
		{ObjectOrder, ActionDelete},
		{ObjectCustomer, ActionCreate},
		{ObjectDashboard, ActionView},
		{ObjectLedger, ActionRebuild},
	}
	for _, rule := range denied {
		assert.ErrorIs(t, svc.Authorize(ctx, RoleStaff, rule[0], rule[1]), ErrForbidden, rule)
	}
}

func TestAdminMayDoAnything(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	assert.NoError(t, svc.Authorize(ctx, RoleAdmin, ObjectPayment, ActionCreate))
	assert.NoError(t, svc.Authorize(ctx, RoleAdmin, ObjectLedger, ActionVerify))
	assert.NoError(t, svc.Authorize(ctx, RoleAdmin, ObjectOrder, ActionSeen))
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	assert.ErrorIs(t, svc.Authorize(ctx, "", ObjectOrder, ActionView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleStaff, " ", ActionView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleStaff, ObjectOrder, ""), ErrInvalidAction)
	assert.ErrorIs(t, svc.Authorize(ctx, "role:guest", ObjectOrder, ActionView), ErrForbidden)
}

func TestSeedingIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	_, err := NewEnforcer(db)
	require.NoError(t, err)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	policies, err := enforcer.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, policies, 7)
}
