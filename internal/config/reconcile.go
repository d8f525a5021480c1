package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReconcileConfig tunes transaction resolution and the orphan sweeper.
type ReconcileConfig struct {
	MatchWindowDays int         `mapstructure:"matchWindowDays"`
	RecurringTypes  []string    `mapstructure:"recurringTypes"`
	Sweep           SweepConfig `mapstructure:"sweep"`
}

type SweepConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Lookback  time.Duration `mapstructure:"lookback"`
	BatchSize int           `mapstructure:"batchSize"`
	LockTTL   time.Duration `mapstructure:"lockTTL"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		MatchWindowDays: 7,
		RecurringTypes:  []string{"recurring", "scheduled", "scheduled_recurring"},
		Sweep: SweepConfig{
			Enabled:   true,
			Interval:  5 * time.Minute,
			Lookback:  14 * 24 * time.Hour,
			BatchSize: 100,
			LockTTL:   4 * time.Minute,
		},
	}
}

// IsRecurring reports whether a provider transaction type is a scheduled
// recurring payment eligible for installment matching.
func (c ReconcileConfig) IsRecurring(transactionType string) bool {
	normalized := normalizeType(transactionType)
	for _, t := range c.RecurringTypes {
		if normalizeType(t) == normalized {
			return true
		}
	}
	return false
}

// MatchWindow returns the +/- window used for installment matching.
func (c ReconcileConfig) MatchWindow() time.Duration {
	return time.Duration(c.MatchWindowDays) * 24 * time.Hour
}

func normalizeType(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, " ", "_")
	return strings.ReplaceAll(value, "-", "_")
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewStaticReconcileConfigHolder wraps a fixed config, mostly for tests.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReconcileConfigHolder() (*ReconcileConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/reconciler/config")
	v.AddConfigPath("/etc/reconciler")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcileConfig()
	v.SetDefault("reconcile.matchWindowDays", defaults.MatchWindowDays)
	v.SetDefault("reconcile.recurringTypes", defaults.RecurringTypes)
	v.SetDefault("reconcile.sweep.enabled", defaults.Sweep.Enabled)
	v.SetDefault("reconcile.sweep.interval", defaults.Sweep.Interval)
	v.SetDefault("reconcile.sweep.lookback", defaults.Sweep.Lookback)
	v.SetDefault("reconcile.sweep.batchSize", defaults.Sweep.BatchSize)
	v.SetDefault("reconcile.sweep.lockTTL", defaults.Sweep.LockTTL)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
		return nil, err
	}
	if err := validateReconcileConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticReconcileConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcileConfig
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			log.Printf("[reconcile-config] reload failed: %v", err)
			return
		}
		if err := validateReconcileConfig(updated); err != nil {
			log.Printf("[reconcile-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[reconcile-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	return h.current.Load().(ReconcileConfig)
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.MatchWindowDays <= 0 {
		return errors.New("reconcile.matchWindowDays must be positive")
	}
	if cfg.Sweep.Enabled {
		if cfg.Sweep.Interval <= 0 {
			return errors.New("reconcile.sweep.interval must be positive")
		}
		if cfg.Sweep.BatchSize <= 0 {
			return errors.New("reconcile.sweep.batchSize must be positive")
		}
	}
	return nil
}
