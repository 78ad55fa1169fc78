package config

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig carries the purchasable credit products and the per-modality
// token prices for the live translation model. Values are loaded from an
// optional pricing.yml and fall back to built-in defaults.
type PricingConfig struct {
	// CreditProducts maps a store product id to the credited seconds.
	CreditProducts map[string]int64 `mapstructure:"creditProducts"`

	// Live prices are micros per one million tokens, by modality.
	LiveAudioInputMicros  int64 `mapstructure:"liveAudioInputMicros"`
	LiveTextInputMicros   int64 `mapstructure:"liveTextInputMicros"`
	LiveAudioOutputMicros int64 `mapstructure:"liveAudioOutputMicros"`
	LiveTextOutputMicros  int64 `mapstructure:"liveTextOutputMicros"`

	// QuotaOverrides optionally replaces individual tier/resource limits.
	// Keys are tier and resource names as used on the wire.
	QuotaOverrides map[string]map[string]QuotaOverride `mapstructure:"quotaOverrides"`
}

// QuotaOverride is one replaced limit triple. A nil Total means uncapped.
type QuotaOverride struct {
	Daily   int64  `mapstructure:"daily"`
	Monthly int64  `mapstructure:"monthly"`
	Total   *int64 `mapstructure:"total"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		CreditProducts: map[string]int64{
			"voxlate_credits_1h":  3600,
			"voxlate_credits_5h":  18000,
			"voxlate_credits_10h": 36000,
		},
		LiveAudioInputMicros:  3_000_000,
		LiveTextInputMicros:   500_000,
		LiveAudioOutputMicros: 12_000_000,
		LiveTextOutputMicros:  2_000_000,
	}
}

// CreditSecondsFor resolves a product id to credited seconds.
func (c PricingConfig) CreditSecondsFor(productID string) (int64, bool) {
	seconds, ok := c.CreditProducts[strings.TrimSpace(productID)]
	return seconds, ok
}

// PricingHolder exposes the current pricing config and hot-reloads it when
// the underlying file changes.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig

	mu        sync.Mutex
	listeners []func(PricingConfig)
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/voxlate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VOXLATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PricingHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultPricingConfig())
		return holder, nil
	}

	cfg, err := decodePricing(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.OnConfigChange(func(_ fsnotify.Event) {
		next, err := decodePricing(v)
		if err != nil {
			return
		}
		holder.current.Store(next)
		holder.notify(next)
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticPricingHolder wraps a fixed config without file watching.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

// OnChange registers a listener invoked with the new config after every
// successful reload, and immediately with the current config.
func (h *PricingHolder) OnChange(fn func(PricingConfig)) {
	if h == nil || fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
	fn(h.Current())
}

func (h *PricingHolder) notify(cfg PricingConfig) {
	h.mu.Lock()
	listeners := make([]func(PricingConfig), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

func (h *PricingHolder) Current() PricingConfig {
	if h == nil {
		return DefaultPricingConfig()
	}
	if cfg, ok := h.current.Load().(PricingConfig); ok {
		return cfg
	}
	return DefaultPricingConfig()
}

func decodePricing(v *viper.Viper) (PricingConfig, error) {
	cfg := DefaultPricingConfig()
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return PricingConfig{}, err
	}
	if len(cfg.CreditProducts) == 0 {
		cfg.CreditProducts = DefaultPricingConfig().CreditProducts
	}
	return cfg, nil
}
