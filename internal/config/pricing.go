package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PricingConfig holds the credit rates applied to AI usage.
// Rates are credits per 1000 tokens.
type PricingConfig struct {
	InputRate      float64            `mapstructure:"inputRate"`
	OutputRate     float64            `mapstructure:"outputRate"`
	WelcomeBonus   float64            `mapstructure:"welcomeBonus"`
	MinimumCharges map[string]float64 `mapstructure:"minimumCharges"`
	Heuristic      HeuristicConfig    `mapstructure:"heuristic"`
}

// HeuristicConfig drives pre-flight estimates made before token counts are known.
type HeuristicConfig struct {
	CharsPerToken        int            `mapstructure:"charsPerToken"`
	PromptOverheadTokens int            `mapstructure:"promptOverheadTokens"`
	DefaultOutputTokens  int            `mapstructure:"defaultOutputTokens"`
	OutputTokens         map[string]int `mapstructure:"outputTokens"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		InputRate:      0.5,
		OutputRate:     1.5,
		WelcomeBonus:   0,
		MinimumCharges: map[string]float64{},
		Heuristic: HeuristicConfig{
			CharsPerToken:        4,
			PromptOverheadTokens: 350,
			DefaultOutputTokens:  200,
			OutputTokens: map[string]int{
				"short_text": 150,
				"long_text":  350,
			},
		},
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingConfigHolder returns a holder that never reloads.
func NewStaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPricingConfigHolder(log *zap.Logger) (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/gradewise/config")
	v.AddConfigPath("/etc/gradewise")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GRADEWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingConfig()
	v.SetDefault("pricing.inputRate", defaults.InputRate)
	v.SetDefault("pricing.outputRate", defaults.OutputRate)
	v.SetDefault("pricing.welcomeBonus", defaults.WelcomeBonus)
	v.SetDefault("pricing.minimumCharges", defaults.MinimumCharges)
	v.SetDefault("pricing.heuristic.charsPerToken", defaults.Heuristic.CharsPerToken)
	v.SetDefault("pricing.heuristic.promptOverheadTokens", defaults.Heuristic.PromptOverheadTokens)
	v.SetDefault("pricing.heuristic.defaultOutputTokens", defaults.Heuristic.DefaultOutputTokens)
	v.SetDefault("pricing.heuristic.outputTokens", defaults.Heuristic.OutputTokens)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		return holder, nil
	}

	log = log.Named("config.pricing")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Warn("pricing reload failed", zap.Error(err))
			return
		}
		updated = updated.withDefaults()
		if err := validatePricingConfig(updated); err != nil {
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

func (c PricingConfig) withDefaults() PricingConfig {
	defaults := DefaultPricingConfig()
	if c.Heuristic.CharsPerToken <= 0 {
		c.Heuristic.CharsPerToken = defaults.Heuristic.CharsPerToken
	}
	if c.Heuristic.DefaultOutputTokens <= 0 {
		c.Heuristic.DefaultOutputTokens = defaults.Heuristic.DefaultOutputTokens
	}
	if c.Heuristic.OutputTokens == nil {
		c.Heuristic.OutputTokens = defaults.Heuristic.OutputTokens
	}
	if c.MinimumCharges == nil {
		c.MinimumCharges = map[string]float64{}
	}
	return c
}

func validatePricingConfig(cfg PricingConfig) error {
	if cfg.InputRate < 0 || cfg.OutputRate < 0 {
		return errors.New("pricing rates cannot be negative")
	}
	if cfg.OutputRate <= cfg.InputRate {
		return errors.New("pricing.outputRate must be greater than pricing.inputRate")
	}
	if cfg.WelcomeBonus < 0 {
		return errors.New("pricing.welcomeBonus cannot be negative")
	}
	if cfg.Heuristic.PromptOverheadTokens < 0 {
		return errors.New("pricing.heuristic.promptOverheadTokens cannot be negative")
	}
	for feature, min := range cfg.MinimumCharges {
		if min < 0 {
			return errors.New("pricing.minimumCharges." + feature + " cannot be negative")
		}
	}
	return nil
}
