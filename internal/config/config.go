package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trades"

	defaultRetryMinDelay = 500 * time.Millisecond
	defaultRetryMaxDelay = 5 * time.Second
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.ApplyExchangeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("mock.latency", "0s")

	v.SetDefault("dispatch.concurrency", 8)
	v.SetDefault("dispatch.request_timeout", "10s")

	v.SetDefault("stream.poll_interval", "2s")
	v.SetDefault("stream.backoff.initial_interval", "500ms")
	v.SetDefault("stream.backoff.max_interval", "30s")

	v.SetDefault("database.path", "data/trades_exec.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.addr", ":8080")
	v.SetDefault("gateway.shutdown_timeout", "5s")

	v.SetDefault("publisher.enabled", false)
	v.SetDefault("publisher.topic", "account-events")
	v.SetDefault("publisher.batch_timeout", "50ms")

	v.SetDefault("scheduler.reconcile_interval", "1m")
}

// ApplyExchangeDefaults 为未显式配置的交易所参数补齐默认值。
// viper 的默认值无法作用于数组元素，因此在解码后处理。
func (c *Config) ApplyExchangeDefaults() {
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		ex.Name = strings.ToLower(strings.TrimSpace(ex.Name))
		if ex.Retry.MaxAttempts == 0 {
			ex.Retry.MaxAttempts = 5
		}
		if ex.Retry.MinDelay == 0 {
			ex.Retry.MinDelay = defaultRetryMinDelay
		}
		if ex.Retry.MaxDelay == 0 {
			ex.Retry.MaxDelay = defaultRetryMaxDelay
		}
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc 将字符串或数字解码为 decimal.Decimal，避免金额经过 float 解析。
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return decimal.Zero, nil
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("无法解析数值 %q: %w", v, err)
			}
			return d, nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case decimal.Decimal:
			return v, nil
		default:
			return data, nil
		}
	}
}
