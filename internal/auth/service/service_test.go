package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	authdomain "github.com/smallbiznis/balancebook/internal/auth/domain"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() config.Config {
	return config.Config{
		AuthJWTSecret:    "test-secret",
		AuthJWTIssuer:    "balancebook",
		AdminEmails:      []string{"owner@example.com"},
		AuthorizedEmails: []string{"clerk@example.com"},
	}
}

func newTestService(t *testing.T, cfg config.Config, clk clock.Clock) authdomain.Service {
	t.Helper()
	return New(Params{Cfg: cfg, Log: zap.NewNop(), Clock: clk})
}

func TestAuthenticateRoles(t *testing.T) {
	svc := newTestService(t, testConfig(), nil)
	ctx := context.Background()

	adminToken, err := svc.Issue("Owner@Example.com", time.Hour)
	require.NoError(t, err)
	actor, err := svc.Authenticate(ctx, "Bearer "+adminToken)
	require.NoError(t, err)
	assert.Equal(t, authdomain.Actor{Email: "owner@example.com", Role: authdomain.RoleAdmin}, actor)
	assert.Equal(t, "role:admin", actor.Subject())

	staffToken, err := svc.Issue("clerk@example.com", time.Hour)
	require.NoError(t, err)
	actor, err = svc.Authenticate(ctx, "bearer "+staffToken)
	require.NoError(t, err)
	assert.Equal(t, authdomain.RoleStaff, actor.Role)
	assert.False(t, actor.IsAdmin())
}

func TestAuthenticateRejects(t *testing.T) {
	svc := newTestService(t, testConfig(), nil)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, authdomain.ErrMissingToken)
	_, err = svc.Authenticate(ctx, "Basic abc")
	assert.ErrorIs(t, err, authdomain.ErrMissingToken)
	_, err = svc.Authenticate(ctx, "Bearer not-a-jwt")
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)

	stranger, err := svc.Issue("stranger@example.com", time.Hour)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "Bearer "+stranger)
	assert.ErrorIs(t, err, authdomain.ErrNotAuthorized)

	other := newTestService(t, config.Config{AuthJWTSecret: "other", AdminEmails: []string{"owner@example.com"}}, nil)
	forged, err := other.Issue("owner@example.com", time.Hour)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "Bearer "+forged)
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)
}

func TestAuthenticateExpired(t *testing.T) {
	past := clock.NewFakeClock(time.Now().Add(-48 * time.Hour))
	issuer := newTestService(t, testConfig(), past)
	token, err := issuer.Issue("owner@example.com", time.Hour)
	require.NoError(t, err)

	svc := newTestService(t, testConfig(), nil)
	_, err = svc.Authenticate(context.Background(), "Bearer "+token)
	assert.ErrorIs(t, err, authdomain.ErrTokenExpired)
}

func TestAuthenticateRejectsOtherAlgorithms(t *testing.T) {
	cfg := testConfig()
	claims := &Claims{Email: "owner@example.com", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    cfg.AuthJWTIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(cfg.AuthJWTSecret))
	require.NoError(t, err)

	svc := newTestService(t, cfg, nil)
	_, err = svc.Authenticate(context.Background(), "Bearer "+token)
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)
}

func TestAuthDisabledActsAsAdmin(t *testing.T) {
	svc := newTestService(t, config.Config{AuthDisabled: true}, nil)
	actor, err := svc.Authenticate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DevActorEmail, actor.Email)
	assert.True(t, actor.IsAdmin())

	ctx := authdomain.WithActor(context.Background(), actor)
	got, ok := authdomain.ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor, got)
}

func TestIssueRequiresSecret(t *testing.T) {
	svc := newTestService(t, config.Config{}, nil)
	_, err := svc.Issue("owner@example.com", time.Hour)
	assert.ErrorIs(t, err, authdomain.ErrNotConfigured)
	_, err = svc.Authenticate(context.Background(), "Bearer x")
	assert.ErrorIs(t, err, authdomain.ErrNotConfigured)
}
