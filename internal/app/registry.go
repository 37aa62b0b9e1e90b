package app

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trades-exec/internal/account"
	"trades-exec/internal/config"
	"trades-exec/internal/execution"
	"trades-exec/internal/execution/ccxtclient"
	"trades-exec/internal/execution/mock"
	"trades-exec/internal/instrument"
	"trades-exec/internal/log"
)

// NewClient 按交易所名称选择适配器，构造过程不发起网络请求。
func NewClient(cfg *config.Config, ex config.ExchangeConfig, logger *zap.Logger) (execution.Client, error) {
	name := strings.ToLower(ex.Name)
	if name == config.MockExchangeName {
		return newMockClient(cfg.Mock, ex, logger)
	}

	client, err := ccxtclient.New(ex, log.ForExchange(logger, "execution", name),
		ccxtclient.WithPollInterval(cfg.Stream.PollInterval),
		ccxtclient.WithBackoff(cfg.Stream.Backoff.InitialInterval, cfg.Stream.Backoff.MaxInterval),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewClients 为全部配置的交易所构造适配器，错误合并返回。
func NewClients(cfg *config.Config, logger *zap.Logger) (map[instrument.ExchangeID]execution.Client, error) {
	clients := make(map[instrument.ExchangeID]execution.Client, len(cfg.Exchanges))
	var errs error
	for _, ex := range cfg.Exchanges {
		client, err := NewClient(cfg, ex, logger)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ex.Name, err))
			continue
		}
		clients[client.Exchange()] = client
	}
	if errs != nil {
		return nil, errs
	}
	return clients, nil
}

func newMockClient(cfg config.MockConfig, ex config.ExchangeConfig, logger *zap.Logger) (*mock.Client, error) {
	specs := make([]instrument.Spec, 0, len(ex.Markets))
	for _, market := range ex.Markets {
		spec, err := instrument.ParseSymbol(instrument.ExchangeMock, market)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	balances := make([]account.AssetBalance, 0, len(cfg.Balances))
	for _, b := range cfg.Balances {
		balances = append(balances, account.AssetBalance{
			Asset:   instrument.AssetNameExchange(strings.ToUpper(b.Asset)),
			Balance: account.NewBalance(b.Total, b.Free),
		})
	}

	prices := make(map[instrument.NameExchange]decimal.Decimal, len(cfg.Prices))
	for _, p := range cfg.Prices {
		prices[instrument.NameExchange(p.Market)] = p.Price
	}

	venue := mock.NewVenue(mock.VenueConfig{
		Exchange:    instrument.ExchangeMock,
		Instruments: specs,
		Balances:    balances,
		Prices:      prices,
	})
	return mock.New(mock.Config{Venue: venue, Latency: cfg.Latency}, logger), nil
}
