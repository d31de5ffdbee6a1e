package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LedgerSettings are the shop-level knobs an operator may change while the
// service is running.
type LedgerSettings struct {
	PaymentMethods       []string `mapstructure:"paymentMethods" json:"payment_methods"`
	DefaultPaymentMethod string   `mapstructure:"defaultPaymentMethod" json:"default_payment_method"`
	ShippingFee          string   `mapstructure:"shippingFee" json:"shipping_fee"`
	Timezone             string   `mapstructure:"timezone" json:"timezone"`
	Shop                 Shop     `mapstructure:"shop" json:"shop"`
}

type Shop struct {
	Name    string `mapstructure:"name" json:"name"`
	Address string `mapstructure:"address" json:"address"`
	Phone   string `mapstructure:"phone" json:"phone"`
	Email   string `mapstructure:"email" json:"email"`
}

func DefaultLedgerSettings() LedgerSettings {
	return LedgerSettings{
		PaymentMethods:       []string{"Cash", "Card", "Transfer", "Other"},
		DefaultPaymentMethod: "Cash",
		ShippingFee:          "0",
		Timezone:             "UTC",
		Shop: Shop{
			Name: "BalanceBook Shop",
		},
	}
}

// Fee parses ShippingFee; validation guarantees it is well formed.
func (s LedgerSettings) Fee() decimal.Decimal {
	fee, err := decimal.NewFromString(strings.TrimSpace(s.ShippingFee))
	if err != nil {
		return decimal.Zero
	}
	return fee
}

// Location resolves Timezone, falling back to UTC.
func (s LedgerSettings) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(s.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

// PaymentMethod normalizes method against the configured list. An empty
// method resolves to the default.
func (s LedgerSettings) PaymentMethod(method string) (string, bool) {
	method = strings.TrimSpace(method)
	if method == "" {
		return s.DefaultPaymentMethod, true
	}
	for _, m := range s.PaymentMethods {
		if strings.EqualFold(m, method) {
			return m, true
		}
	}
	return "", false
}

type LedgerSettingsHolder struct {
	current atomic.Value // holds LedgerSettings
}

// NewStaticLedgerSettings wraps fixed settings, mostly for tests.
func NewStaticLedgerSettings(settings LedgerSettings) *LedgerSettingsHolder {
	holder := &LedgerSettingsHolder{}
	holder.current.Store(settings)
	return holder
}

func NewLedgerSettingsHolder(cfg Config, log *zap.Logger) (*LedgerSettingsHolder, error) {
	log = log.Named("config.ledger")
	v := viper.New()

	if cfg.LedgerSettingsPath != "" {
		v.SetConfigFile(cfg.LedgerSettingsPath)
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/balancebook")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BALANCEBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerSettings()
	v.SetDefault("ledger.paymentMethods", defaults.PaymentMethods)
	v.SetDefault("ledger.defaultPaymentMethod", defaults.DefaultPaymentMethod)
	v.SetDefault("ledger.shippingFee", defaults.ShippingFee)
	v.SetDefault("ledger.timezone", defaults.Timezone)
	v.SetDefault("ledger.shop.name", defaults.Shop.Name)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var settings LedgerSettings
	if err := v.UnmarshalKey("ledger", &settings); err != nil {
		return nil, err
	}
	if err := ValidateLedgerSettings(settings); err != nil {
		return nil, err
	}

	holder := &LedgerSettingsHolder{}
	holder.current.Store(settings)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated LedgerSettings
		if err := v.UnmarshalKey("ledger", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := ValidateLedgerSettings(updated); err != nil {
			log.Warn("invalid settings ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("settings reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *LedgerSettingsHolder) Get() LedgerSettings {
	return h.current.Load().(LedgerSettings)
}

func ValidateLedgerSettings(s LedgerSettings) error {
	if len(s.PaymentMethods) == 0 {
		return errors.New("ledger.paymentMethods cannot be empty")
	}
	found := false
	for _, m := range s.PaymentMethods {
		if strings.TrimSpace(m) == "" {
			return errors.New("ledger.paymentMethods cannot contain blanks")
		}
		if strings.EqualFold(m, s.DefaultPaymentMethod) {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("ledger.defaultPaymentMethod %q is not a listed payment method", s.DefaultPaymentMethod)
	}
	fee, err := decimal.NewFromString(strings.TrimSpace(s.ShippingFee))
	if err != nil {
		return fmt.Errorf("ledger.shippingFee: %w", err)
	}
	if fee.IsNegative() {
		return errors.New("ledger.shippingFee cannot be negative")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(s.Timezone)); err != nil {
		return fmt.Errorf("ledger.timezone: %w", err)
	}
	return nil
}
