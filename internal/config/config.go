// Package config loads texrender settings from a YAML file and TEXRENDER_* environment
// variables. Environment variables win; TEXRENDER_BACKEND_POOL_SIZE sets backend.pool_size.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/texrender/pkg/backend"
	"github.com/aretw0/texrender/pkg/delivery"
	"github.com/aretw0/texrender/pkg/persistence/middleware"
	"github.com/aretw0/texrender/pkg/pool"
	"github.com/aretw0/texrender/pkg/wire"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TEXRENDER_"

// Protocols.
const (
	ProtocolBinary = "binary"
	ProtocolSigned = "signed"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StorePebble = "pebble"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Signed   SignedConfig   `mapstructure:"signed"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Store    StoreConfig    `mapstructure:"store"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Document DocumentConfig `mapstructure:"document"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BackendConfig describes the binary rendering backend.
type BackendConfig struct {
	Protocol        string        `mapstructure:"protocol"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Wire            string        `mapstructure:"wire"`
	PoolSize        int           `mapstructure:"pool_size"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	RecycleInterval time.Duration `mapstructure:"recycle_interval"`
}

// Addr is the backend's host:port.
func (b BackendConfig) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// SignedConfig describes the signed-URL protocol, shared by the client and the gateway.
type SignedConfig struct {
	Key           string        `mapstructure:"key"`
	PublicOrigin  string        `mapstructure:"public_origin"`
	RequestOrigin string        `mapstructure:"request_origin"`
	MaxLinkLength int           `mapstructure:"max_link_length"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type GatewayConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
	Metrics   bool    `mapstructure:"metrics"`
	// TrustedProxy takes client addresses from forwarding headers for rate limiting.
	TrustedProxy bool `mapstructure:"trusted_proxy"`
}

type StoreConfig struct {
	Driver        string        `mapstructure:"driver"`
	Prefix        string        `mapstructure:"prefix"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	PebblePath    string        `mapstructure:"pebble_path"`
	TTL           time.Duration `mapstructure:"ttl"`

	// EncryptionKey is a base64 AES-256 key. When set, stored values are sealed at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
	// FallbackKeys are retired keys still accepted for reading.
	FallbackKeys []string `mapstructure:"fallback_keys"`
}

// Keys decodes EncryptionKey and FallbackKeys. It returns a nil active key when
// encryption is off.
func (s StoreConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	if active, err = decodeKey("store.encryption_key", s.EncryptionKey); err != nil {
		return nil, nil, err
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(fmt.Sprintf("store.fallback_keys[%d]", i), k)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(name, value string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", name, err)
	}
	if len(key) != middleware.KeySize {
		return nil, fmt.Errorf("%s must decode to %d bytes, got %d", name, middleware.KeySize, len(key))
	}
	return key, nil
}

type DeliveryConfig struct {
	Features   delivery.Features `mapstructure:"features"`
	EditWindow time.Duration     `mapstructure:"edit_window"`
}

type DocumentConfig struct {
	Substitutions string `mapstructure:"substitutions"`
	Template      string `mapstructure:"template"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Backend: BackendConfig{
			Protocol:        ProtocolBinary,
			Host:            "localhost",
			Port:            7000,
			Wire:            wire.NamePreamble,
			PoolSize:        pool.DefaultSize,
			ReadTimeout:     backend.DefaultReadTimeout,
			DialTimeout:     pool.DefaultDialTimeout,
			RecycleInterval: pool.DefaultRecycleInterval,
		},
		Signed: SignedConfig{
			MaxLinkLength: backend.DefaultMaxLinkLength,
			Timeout:       backend.DefaultFetchTimeout,
		},
		Gateway: GatewayConfig{
			Addr:      ":8080",
			RateLimit: 5,
			Burst:     10,
			Metrics:   true,
		},
		Store: StoreConfig{
			Driver:     StoreMemory,
			RedisAddr:  "localhost:6379",
			PebblePath: "data/texrender",
		},
		Delivery: DeliveryConfig{
			Features:   delivery.Features{Retraction: true, Inline: true},
			EditWindow: delivery.DefaultEditWindow,
		},
	}
}

// Load reads path (skipped when empty) and the environment. envFiles are loaded into the
// environment first without overriding variables that are already set.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}
	overlayEnv(raw, os.Environ())

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayEnv copies TEXRENDER_<SECTION>_<KEY> variables into raw[section][key].
// TEXRENDER_DELIVERY_FEATURES_INLINE addresses delivery.features.inline.
func overlayEnv(raw map[string]any, environ []string) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		path := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		section, key, ok := strings.Cut(path, "_")
		if !ok {
			continue
		}
		target := child(raw, section)
		if section == "delivery" && strings.HasPrefix(key, "features_") {
			target = child(target, "features")
			key = strings.TrimPrefix(key, "features_")
		}
		target[key] = value
	}
}

func child(m map[string]any, key string) map[string]any {
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	sub := map[string]any{}
	m[key] = sub
	return sub
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Backend.Protocol {
	case ProtocolBinary:
	case ProtocolSigned:
		if c.Signed.PublicOrigin == "" {
			return errors.New("signed.public_origin is required for the signed protocol")
		}
		if c.Signed.Key == "" {
			return errors.New("signed.key is required for the signed protocol")
		}
	default:
		return fmt.Errorf("unknown backend.protocol %q", c.Backend.Protocol)
	}
	if _, err := wire.ByName(c.Backend.Wire); err != nil {
		return err
	}
	if c.Backend.PoolSize < 1 {
		return fmt.Errorf("backend.pool_size must be at least 1, got %d", c.Backend.PoolSize)
	}
	switch c.Store.Driver {
	case StoreMemory, StoreRedis, StorePebble:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, _, err := c.Store.Keys(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
