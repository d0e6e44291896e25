package scheduler

import (
	"time"

	"github.com/smallbiznis/gradewise/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	BillingPeriodDays int
	JobTimeout        time.Duration
	LockTTL           time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       5 * time.Minute,
		BatchSize:         100,
		BillingPeriodDays: 30,
		JobTimeout:        30 * time.Second,
		LockTTL:           2 * time.Minute,
	}
}

// ProvideConfig maps application config onto scheduler config.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:       cfg.Scheduler.RunInterval,
		BillingPeriodDays: cfg.Scheduler.BillingPeriodDays,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.BillingPeriodDays <= 0 {
		c.BillingPeriodDays = defaults.BillingPeriodDays
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

// BillingPeriod is the length of one usage period.
func (c Config) BillingPeriod() time.Duration {
	return time.Duration(c.BillingPeriodDays) * 24 * time.Hour
}
