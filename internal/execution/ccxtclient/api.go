// Package ccxtclient 基于 ccxt 实现 execution.Client，覆盖 binance、binanceusdm 与 hyperliquid。
package ccxtclient

import (
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trades-exec/internal/config"
	"trades-exec/internal/instrument"
)

// api 为适配器用到的 ccxt 方法子集，便于测试替换。
type api interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
	FetchMyTrades(options ...ccxt.FetchMyTradesOptions) ([]ccxt.Trade, error)
}

// newAPI 构造 ccxt 客户端，不发起网络请求。返回的 loadMarkets 用于首次调用前加载市场元数据。
func newAPI(cfg config.ExchangeConfig) (api, func() error, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.RateLimit > 0 {
		userConfig["rateLimit"] = cfg.RateLimit.Milliseconds()
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	switch instrument.ExchangeID(strings.ToLower(cfg.Name)) {
	case instrument.ExchangeBinance:
		userConfig["options"] = map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "spot",
		}
		ex := ccxt.NewBinance(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, nil
	case instrument.ExchangeBinanceUSDM:
		userConfig["options"] = map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		}
		ex := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, nil
	case instrument.ExchangeHyperliquid:
		if cfg.Wallet != "" {
			userConfig["walletAddress"] = cfg.Wallet
		}
		if cfg.PrivateKey != "" {
			userConfig["privateKey"] = cfg.PrivateKey
		}
		ex := ccxt.NewHyperliquid(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, nil
	default:
		return nil, nil, fmt.Errorf("ccxtclient: 不支持的交易所 %q", cfg.Name)
	}
}
