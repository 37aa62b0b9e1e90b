package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// MockExchangeName 为模拟交易所在 exchanges[].name 中的名称。
const MockExchangeName = "mock"

var supportedExchanges = map[string]struct{}{
	MockExchangeName: {},
	"binance":        {},
	"binanceusdm":    {},
	"hyperliquid":    {},
}

// Config 聚合了执行服务运行所需的全部配置项。
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
	Mock      MockConfig       `mapstructure:"mock"`
	Dispatch  DispatchConfig   `mapstructure:"dispatch"`
	Stream    StreamConfig     `mapstructure:"stream"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Gateway   GatewayConfig    `mapstructure:"gateway"`
	Publisher PublisherConfig  `mapstructure:"publisher"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述一个交易所连接。
type ExchangeConfig struct {
	Name       string        `mapstructure:"name"`
	Markets    []string      `mapstructure:"markets"`
	Assets     []string      `mapstructure:"assets"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	APIPass    string        `mapstructure:"api_password"`
	Wallet     string        `mapstructure:"wallet_address"`
	PrivateKey string        `mapstructure:"private_key"`
	UseSandbox bool          `mapstructure:"use_sandbox"`
	RateLimit  time.Duration `mapstructure:"rate_limit"`
	Retry      RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// MockConfig 描述模拟交易所的初始状态。
type MockConfig struct {
	Latency  time.Duration       `mapstructure:"latency"`
	Balances []MockBalanceConfig `mapstructure:"balances"`
	Prices   []MockPriceConfig   `mapstructure:"prices"`
}

// MockBalanceConfig 为单个资产的初始余额。
type MockBalanceConfig struct {
	Asset string          `mapstructure:"asset"`
	Total decimal.Decimal `mapstructure:"total"`
	Free  decimal.Decimal `mapstructure:"free"`
}

// MockPriceConfig 为市价单成交价格。
type MockPriceConfig struct {
	Market string          `mapstructure:"market"`
	Price  decimal.Decimal `mapstructure:"price"`
}

// DispatchConfig 控制批量下单/撤单的并发。
type DispatchConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StreamConfig 控制账户推送。
type StreamConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Backoff      BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig 控制断线重连的退避。
type BackoffConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// GatewayConfig 控制 HTTP 网关。
type GatewayConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PublisherConfig 控制账户事件的 Kafka 投递。
type PublisherConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// SchedulerConfig 控制定期对账节奏。
type SchedulerConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// Exchange 按名称查找交易所配置。
func (c *Config) Exchange(name string) (ExchangeConfig, bool) {
	for _, ex := range c.Exchanges {
		if strings.EqualFold(ex.Name, name) {
			return ex, true
		}
	}
	return ExchangeConfig{}, false
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if len(c.Exchanges) == 0 {
		err = multierr.Append(err, errors.New("exchanges 至少配置一个交易所"))
	}

	seen := make(map[string]struct{}, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		err = multierr.Append(err, ex.validate(i))
		name := strings.ToLower(ex.Name)
		if _, dup := seen[name]; dup && name != "" {
			err = multierr.Append(err, fmt.Errorf("exchanges[%d].name %q 重复", i, ex.Name))
		}
		seen[name] = struct{}{}
	}

	if _, ok := seen[MockExchangeName]; ok {
		err = multierr.Append(err, c.Mock.validate())
	}

	if c.Dispatch.Concurrency < 0 {
		err = multierr.Append(err, errors.New("dispatch.concurrency 不能为负"))
	}
	if c.Dispatch.RequestTimeout < 0 {
		err = multierr.Append(err, errors.New("dispatch.request_timeout 不能为负"))
	}
	if c.Stream.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("stream.poll_interval 必须大于0"))
	}
	if c.Stream.Backoff.InitialInterval <= 0 || c.Stream.Backoff.MaxInterval <= 0 {
		err = multierr.Append(err, errors.New("stream.backoff 间隔必须为正"))
	}
	if c.Stream.Backoff.InitialInterval > c.Stream.Backoff.MaxInterval {
		err = multierr.Append(err, errors.New("stream.backoff.initial_interval 不能大于 max_interval"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		err = multierr.Append(err, errors.New("gateway.addr 不能为空"))
	}
	if c.Publisher.Enabled {
		if len(c.Publisher.Brokers) == 0 {
			err = multierr.Append(err, errors.New("publisher.brokers 至少包含一个地址"))
		}
		if c.Publisher.Topic == "" {
			err = multierr.Append(err, errors.New("publisher.topic 不能为空"))
		}
	}
	if c.Scheduler.ReconcileInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.reconcile_interval 必须大于0"))
	}
	if c.Scheduler.ReconcileInterval > 0 && c.Scheduler.ReconcileInterval < c.Stream.PollInterval {
		err = multierr.Append(err, errors.New("scheduler.reconcile_interval 不应小于 stream.poll_interval"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (e ExchangeConfig) validate(i int) error {
	var err error
	name := strings.ToLower(e.Name)
	if name == "" {
		return fmt.Errorf("exchanges[%d].name 不能为空", i)
	}
	if _, ok := supportedExchanges[name]; !ok {
		err = multierr.Append(err, fmt.Errorf("exchanges[%d].name 不支持的交易所 %q", i, e.Name))
	}
	if len(e.Markets) == 0 {
		err = multierr.Append(err, fmt.Errorf("exchanges[%d].markets 不能为空", i))
	}
	if e.RateLimit < 0 {
		err = multierr.Append(err, fmt.Errorf("exchanges[%d].rate_limit 不能为负", i))
	}
	if name == MockExchangeName {
		return err
	}
	if e.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("exchanges[%d].retry.max_attempts 必须大于0", i))
	}
	if e.Retry.MinDelay <= 0 || e.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("exchanges[%d].retry.delay 必须为正", i))
	}
	if e.Retry.MinDelay > e.Retry.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("exchanges[%d].retry.min_delay 不能大于 max_delay", i))
	}
	if name == "hyperliquid" && (e.Wallet == "" || e.PrivateKey == "") {
		err = multierr.Append(err, errors.New("hyperliquid 交易需要配置 wallet_address 与 private_key"))
	}
	return err
}

func (m MockConfig) validate() error {
	var err error
	if m.Latency < 0 {
		err = multierr.Append(err, errors.New("mock.latency 不能为负"))
	}
	for i, b := range m.Balances {
		if b.Asset == "" {
			err = multierr.Append(err, fmt.Errorf("mock.balances[%d].asset 不能为空", i))
		}
		if b.Total.IsNegative() || b.Free.IsNegative() {
			err = multierr.Append(err, fmt.Errorf("mock.balances[%d] 余额不能为负", i))
		}
		if b.Free.GreaterThan(b.Total) {
			err = multierr.Append(err, fmt.Errorf("mock.balances[%d].free 不能大于 total", i))
		}
	}
	for i, p := range m.Prices {
		if p.Market == "" || !p.Price.IsPositive() {
			err = multierr.Append(err, fmt.Errorf("mock.prices[%d] 需要交易对与正价格", i))
		}
	}
	return err
}
