package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("LEDGER_MAX_RETRIES", "7")
	t.Setenv("RECONCILE_INTERVAL", "90s")
	t.Setenv("ADMIN_EMAILS", " Owner@Shop.test , ")
	t.Setenv("AUTHORIZED_EMAILS", "clerk@shop.test")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, 7, cfg.Ledger.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, []string{"owner@shop.test"}, cfg.AdminEmails)
	assert.True(t, cfg.IsAdmin("OWNER@shop.test"))
	assert.True(t, cfg.IsAuthorized("owner@shop.test"))
	assert.True(t, cfg.IsAuthorized("clerk@shop.test"))
	assert.False(t, cfg.IsAdmin("clerk@shop.test"))
	assert.False(t, cfg.IsAuthorized("stranger@shop.test"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "oracle")
	assert.Error(t, Load().Validate())

	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("LEDGER_LOCK_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")
	assert.Error(t, Load().Validate())

	t.Setenv("LEDGER_LOCK_BACKEND", "none")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("AUTH_JWT_SECRET", "")
	assert.Error(t, Load().Validate())
}

func TestLedgerSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewLedgerSettingsHolder(Config{}, zap.NewNop())
	require.NoError(t, err)

	settings := holder.Get()
	assert.Equal(t, "Cash", settings.DefaultPaymentMethod)
	assert.True(t, settings.Fee().IsZero())

	method, ok := settings.PaymentMethod("")
	assert.True(t, ok)
	assert.Equal(t, "Cash", method)

	method, ok = settings.PaymentMethod("transfer")
	assert.True(t, ok)
	assert.Equal(t, "Transfer", method)

	_, ok = settings.PaymentMethod("Barter")
	assert.False(t, ok)
}

func TestLedgerSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yml")
	content := []byte(`ledger:
  paymentMethods: [Cash, QRIS]
  defaultPaymentMethod: QRIS
  shippingFee: "2.50"
  timezone: Asia/Jakarta
  shop:
    name: Warung Maju
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewLedgerSettingsHolder(Config{LedgerSettingsPath: path}, zap.NewNop())
	require.NoError(t, err)

	settings := holder.Get()
	assert.Equal(t, []string{"Cash", "QRIS"}, settings.PaymentMethods)
	assert.Equal(t, "2.50", settings.Fee().StringFixed(2))
	assert.Equal(t, "Asia/Jakarta", settings.Location().String())
	assert.Equal(t, "Warung Maju", settings.Shop.Name)
}

func TestValidateLedgerSettings(t *testing.T) {
	base := DefaultLedgerSettings()
	require.NoError(t, ValidateLedgerSettings(base))

	noMethods := base
	noMethods.PaymentMethods = nil
	assert.Error(t, ValidateLedgerSettings(noMethods))

	unknownDefault := base
	unknownDefault.DefaultPaymentMethod = "Barter"
	assert.Error(t, ValidateLedgerSettings(unknownDefault))

	negativeFee := base
	negativeFee.ShippingFee = "-1"
	assert.Error(t, ValidateLedgerSettings(negativeFee))
}
