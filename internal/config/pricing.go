package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BundleRuleConfig describes one automatic bundle discount rule.
// Condition is a CEL expression over `services` and `service_count`.
type BundleRuleConfig struct {
	ID        string   `mapstructure:"id"`
	Condition string   `mapstructure:"condition"`
	Percent   float64  `mapstructure:"percent"`
	Basis     []string `mapstructure:"basis"`
}

// PricingConfig is the hot-reloadable pricing policy.
type PricingConfig struct {
	DefaultMaxDiscountPercent float64            `mapstructure:"defaultMaxDiscountPercent"`
	ApprovalPollInterval      time.Duration      `mapstructure:"approvalPollInterval"`
	DefaultTermMonths         int                `mapstructure:"defaultTermMonths"`
	DefaultInterestRate       float64            `mapstructure:"defaultInterestRate"`
	SessionLockTTL            time.Duration      `mapstructure:"sessionLockTTL"`
	BundleRules               []BundleRuleConfig `mapstructure:"bundleRules"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		DefaultMaxDiscountPercent: 10,
		ApprovalPollInterval:      10 * time.Second,
		DefaultTermMonths:         120,
		DefaultInterestRate:       9.99,
		SessionLockTTL:            30 * time.Minute,
		BundleRules: []BundleRuleConfig{
			{
				ID:        "roofing-windows",
				Condition: `"roofing" in services && "windows-doors" in services`,
				Percent:   5,
				Basis:     []string{"roofing", "windows-doors"},
			},
			{
				ID:        "hvac-multi",
				Condition: `"hvac" in services && service_count >= 2`,
				Percent:   3,
				Basis:     []string{"hvac"},
			},
		},
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingConfigHolder wraps a fixed config, mostly for tests.
func NewStaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPricingConfigHolder(log *zap.Logger) (*PricingConfigHolder, error) {
	log = log.Named("config.pricing")
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/proposalpricing")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PRICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingConfig()
	v.SetDefault("pricing.defaultMaxDiscountPercent", defaults.DefaultMaxDiscountPercent)
	v.SetDefault("pricing.approvalPollInterval", defaults.ApprovalPollInterval)
	v.SetDefault("pricing.defaultTermMonths", defaults.DefaultTermMonths)
	v.SetDefault("pricing.defaultInterestRate", defaults.DefaultInterestRate)
	v.SetDefault("pricing.sessionLockTTL", defaults.SessionLockTTL)
	v.SetDefault("pricing.bundleRules", defaults.BundleRules)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	cfg = withPricingDefaults(cfg)
	if err := ValidatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPricingConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Warn("pricing config reload failed", zap.Error(err))
			return
		}
		updated = withPricingDefaults(updated)
		if err := ValidatePricingConfig(updated); err != nil {
			log.Warn("invalid pricing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// withPricingDefaults fills keys a partial pricing.yml leaves unset. A zero
// value counts as unset.
func withPricingDefaults(cfg PricingConfig) PricingConfig {
	defaults := DefaultPricingConfig()
	if cfg.DefaultMaxDiscountPercent == 0 {
		cfg.DefaultMaxDiscountPercent = defaults.DefaultMaxDiscountPercent
	}
	if cfg.ApprovalPollInterval == 0 {
		cfg.ApprovalPollInterval = defaults.ApprovalPollInterval
	}
	if cfg.DefaultTermMonths == 0 {
		cfg.DefaultTermMonths = defaults.DefaultTermMonths
	}
	if cfg.DefaultInterestRate == 0 {
		cfg.DefaultInterestRate = defaults.DefaultInterestRate
	}
	if cfg.SessionLockTTL == 0 {
		cfg.SessionLockTTL = defaults.SessionLockTTL
	}
	if cfg.BundleRules == nil {
		cfg.BundleRules = defaults.BundleRules
	}
	return cfg
}

func ValidatePricingConfig(cfg PricingConfig) error {
	if cfg.DefaultMaxDiscountPercent < 0 || cfg.DefaultMaxDiscountPercent > 100 {
		return errors.New("pricing.defaultMaxDiscountPercent must be between 0 and 100")
	}
	if cfg.ApprovalPollInterval <= 0 {
		return errors.New("pricing.approvalPollInterval must be positive")
	}
	if cfg.DefaultTermMonths < 0 {
		return errors.New("pricing.defaultTermMonths cannot be negative")
	}
	if cfg.DefaultInterestRate < 0 {
		return errors.New("pricing.defaultInterestRate cannot be negative")
	}
	for i, rule := range cfg.BundleRules {
		if strings.TrimSpace(rule.ID) == "" || strings.TrimSpace(rule.Condition) == "" {
			return fmt.Errorf("pricing.bundleRules[%d] requires id and condition", i)
		}
		if rule.Percent < 0 || rule.Percent > 100 {
			return fmt.Errorf("pricing.bundleRules[%d].percent must be between 0 and 100", i)
		}
	}
	return nil
}
