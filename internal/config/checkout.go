package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CheckoutConfig holds runtime tunables that operators may change without a restart.
type CheckoutConfig struct {
	StatusPoll     StatusPollConfig `mapstructure:"statusPoll"`
	GatewayTimeout time.Duration    `mapstructure:"gatewayTimeout"`
	RateLimit      RateLimitConfig  `mapstructure:"rateLimit"`
}

type StatusPollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
}

type RateLimitConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

func DefaultCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		StatusPoll: StatusPollConfig{
			Interval:    3 * time.Second,
			MaxAttempts: 10,
		},
		GatewayTimeout: 15 * time.Second,
		RateLimit: RateLimitConfig{
			Rate:  0.2,
			Burst: 5,
		},
	}
}

type CheckoutConfigHolder struct {
	current atomic.Value // holds CheckoutConfig
}

// NewStaticCheckoutConfigHolder returns a holder that never reloads.
func NewStaticCheckoutConfigHolder(cfg CheckoutConfig) *CheckoutConfigHolder {
	holder := &CheckoutConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCheckoutConfigHolder(log *zap.Logger) (*CheckoutConfigHolder, error) {
	log = log.Named("config.checkout")
	v := viper.New()

	v.SetConfigName("checkout")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/gamestore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GAMESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCheckoutConfig()
	v.SetDefault("checkout.statusPoll.interval", defaults.StatusPoll.Interval)
	v.SetDefault("checkout.statusPoll.maxAttempts", defaults.StatusPoll.MaxAttempts)
	v.SetDefault("checkout.gatewayTimeout", defaults.GatewayTimeout)
	v.SetDefault("checkout.rateLimit.rate", defaults.RateLimit.Rate)
	v.SetDefault("checkout.rateLimit.burst", defaults.RateLimit.Burst)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg CheckoutConfig
	if err := v.UnmarshalKey("checkout", &cfg); err != nil {
		return nil, err
	}
	if err := validateCheckoutConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticCheckoutConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CheckoutConfig
		if err := v.UnmarshalKey("checkout", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateCheckoutConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CheckoutConfigHolder) Get() CheckoutConfig {
	if h == nil {
		return DefaultCheckoutConfig()
	}
	return h.current.Load().(CheckoutConfig)
}

func validateCheckoutConfig(cfg CheckoutConfig) error {
	if cfg.StatusPoll.Interval <= 0 {
		return errors.New("checkout.statusPoll.interval must be positive")
	}
	if cfg.StatusPoll.MaxAttempts <= 0 {
		return errors.New("checkout.statusPoll.maxAttempts must be positive")
	}
	if cfg.GatewayTimeout <= 0 {
		return errors.New("checkout.gatewayTimeout must be positive")
	}
	if cfg.RateLimit.Rate <= 0 || cfg.RateLimit.Burst <= 0 {
		return errors.New("checkout.rateLimit must be positive")
	}
	return nil
}
