// Package config loads the core's runtime configuration from a YAML/TOML
// file, environment variables, and flags, layered through spf13/viper, and
// assembles it into the per-component Default*Config structs that the rest
// of the module consumes directly.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

// decimalDecodeHook lets viper populate decimal.Decimal fields from a YAML
// string or number without every caller hand-rolling the conversion.
func decimalDecodeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return data, nil
	}
}

// ExchangeConfig names the exchange connection and credentials.
type ExchangeConfig struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Testnet    bool   `mapstructure:"testnet"`
	QuoteAsset string `mapstructure:"quote_asset"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig selects and configures the shared TTL cache backend.
type CacheConfig struct {
	Driver   string `mapstructure:"driver"` // "memory" or "redis"
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig controls the Prometheus HTTP exporter.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig controls zap's output.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Root is the fully assembled configuration tree for cmd/core.
type Root struct {
	Exchange  ExchangeConfig `mapstructure:"exchange"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Cache     CacheConfig    `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig      `mapstructure:"log"`
	Symbols   []string       `mapstructure:"symbols"`

	OrderExecutor      types.OrderExecutorConfig      `mapstructure:"order_executor"`
	OrderTracker       types.OrderTrackerConfig       `mapstructure:"order_tracker"`
	PositionMonitor    types.PositionMonitorConfig    `mapstructure:"position_monitor"`
	TakeProfit         types.TakeProfitConfig         `mapstructure:"take_profit"`
	PermissionVerifier types.PermissionVerifierConfig `mapstructure:"permission_verifier"`
	EventBus           types.EventBusConfig           `mapstructure:"event_bus"`
	CandleStore        types.CandleStoreConfig        `mapstructure:"candle_store"`
	RealtimeProcessor  types.RealtimeProcessorConfig  `mapstructure:"realtime_processor"`
	CandleManager      types.CandleDataManagerConfig  `mapstructure:"candle_manager"`
	SwingDetector      types.SwingDetectorConfig      `mapstructure:"swing_detector"`
	LiquidityZone      types.LiquidityZoneConfig      `mapstructure:"liquidity_zone"`
	LiquiditySweep     types.LiquiditySweepConfig     `mapstructure:"liquidity_sweep"`
	TrendRecognition   types.TrendRecognitionConfig   `mapstructure:"trend_recognition"`
	StructureBreak     types.MarketStructureBreakConfig `mapstructure:"structure_break"`
	MarketState        types.MarketStateTrackerConfig `mapstructure:"market_state"`
}

// Defaults returns a Root populated with every component's documented
// defaults, letting a config file or environment override only the fields
// that matter for a given deployment.
func Defaults() Root {
	return Root{
		Exchange:  ExchangeConfig{Name: "binance", QuoteAsset: "USDT"},
		Storage:   StorageConfig{Driver: "memory"},
		Cache:     CacheConfig{Driver: "memory"},
		Telemetry: TelemetryConfig{Enabled: true, Addr: ":9090"},
		Log:       LogConfig{Level: "info"},

		OrderExecutor:      types.DefaultOrderExecutorConfig(),
		OrderTracker:       types.DefaultOrderTrackerConfig(),
		PositionMonitor:    types.DefaultPositionMonitorConfig(),
		TakeProfit:         types.DefaultTakeProfitConfig(),
		PermissionVerifier: types.DefaultPermissionVerifierConfig(),
		EventBus:           types.DefaultEventBusConfig(),
		CandleStore:        types.DefaultCandleStoreConfig(),
		RealtimeProcessor:  types.DefaultRealtimeProcessorConfig(),
		CandleManager:      types.DefaultCandleDataManagerConfig(),
		SwingDetector:      types.DefaultSwingDetectorConfig(),
		LiquidityZone:      types.DefaultLiquidityZoneConfig(),
		LiquiditySweep:     types.DefaultLiquiditySweepConfig(),
		TrendRecognition:   types.DefaultTrendRecognitionConfig(),
		StructureBreak:     types.DefaultMarketStructureBreakConfig(),
		MarketState:        types.DefaultMarketStateTrackerConfig(),
	}
}

// Load reads path, when non-empty, over the documented defaults (a missing
// or unreadable file is an error). A STRUCTURE_CORE_-prefixed environment
// variable, e.g. STRUCTURE_CORE_EXCHANGE_API_KEY for exchange.api_key,
// overrides a key only when the config file also sets that key; keys that
// come from the defaults alone are not read from the environment. The
// result must pass Validate, otherwise Load returns the validation error.
func Load(path string) (*Root, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("STRUCTURE_CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		decimalDecodeHook,
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations cmd/core cannot safely start with.
func (c *Root) Validate() error {
	if c.Storage.Driver != "memory" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("storage.driver must be \"memory\" or \"postgres\", got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required when storage.driver is \"postgres\"")
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("cache.driver must be \"memory\" or \"redis\", got %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "redis" && c.Cache.Address == "" {
		return fmt.Errorf("cache.address is required when cache.driver is \"redis\"")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	return nil
}
