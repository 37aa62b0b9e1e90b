// Package mock 提供内存模拟交易所，用于测试与本地联调。
package mock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"trades-exec/internal/account"
	"trades-exec/internal/execution"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

var errOffline = errors.New("mock: 交易所离线")

// Config 描述模拟客户端。
type Config struct {
	Venue   *Venue
	Latency time.Duration
}

// Client 实现 execution.Client，所有调用都落到共享的 Venue 上。
type Client struct {
	venue   *Venue
	latency time.Duration
	logger  *zap.Logger
}

var _ execution.Client = (*Client)(nil)

// New 创建模拟客户端，不发起任何 I/O。
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	venue := cfg.Venue
	if venue == nil {
		venue = NewVenue(VenueConfig{})
	}
	return &Client{
		venue:   venue,
		latency: cfg.Latency,
		logger:  logger.Named("mock").With(zap.String("exchange", venue.Exchange().String())),
	}
}

// Venue 返回底层模拟交易所。
func (c *Client) Venue() *Venue {
	return c.venue
}

func (c *Client) Exchange() instrument.ExchangeID {
	return c.venue.Exchange()
}

func (c *Client) AccountSnapshot(ctx context.Context, assets []instrument.AssetNameExchange, instruments []instrument.NameExchange) (account.Snapshot, error) {
	if err := c.delay(ctx, "account_snapshot"); err != nil {
		return account.Snapshot{}, err
	}

	balances, err := c.venue.balanceSnapshot()
	if err != nil {
		return account.Snapshot{}, c.offline("account_snapshot", err)
	}
	orders, err := c.venue.openOrders()
	if err != nil {
		return account.Snapshot{}, c.offline("account_snapshot", err)
	}

	return account.Snapshot{
		Exchange:    c.Exchange(),
		Balances:    account.FilterBalances(balances, assets),
		Instruments: account.GroupOrders(orders, instruments),
		Time:        time.Now().UTC(),
	}, nil
}

func (c *Client) AccountStream(ctx context.Context, assets []instrument.AssetNameExchange, instruments []instrument.NameExchange) (<-chan account.Event, error) {
	if err := c.delay(ctx, "account_stream"); err != nil {
		return nil, err
	}
	stream, err := c.venue.subscribe(ctx, assets, instruments)
	if err != nil {
		return nil, c.offline("account_stream", err)
	}
	c.logger.Debug("已建立账户推送订阅", zap.Int("assets", len(assets)), zap.Int("instruments", len(instruments)))
	return stream, nil
}

func (c *Client) OpenOrder(ctx context.Context, req order.Order[order.RequestOpen]) order.OpenResult {
	if err := c.delay(ctx, "open_order"); err != nil {
		return order.RejectOpen(req, execution.OrderErrorFrom(err))
	}
	res := c.venue.openOrder(req)
	if err := res.State().Err(); err != nil {
		c.logger.Debug("模拟下单被拒绝",
			zap.String("cid", req.ClientID().String()),
			zap.String("instrument", req.Instrument().String()),
			zap.Error(err),
		)
	}
	return res
}

func (c *Client) CancelOrder(ctx context.Context, req order.Order[order.RequestCancel]) order.CancelResult {
	if err := c.delay(ctx, "cancel_order"); err != nil {
		return order.RejectCancel(req, execution.OrderErrorFrom(err))
	}
	return c.venue.cancelOrder(req)
}

func (c *Client) FetchBalances(ctx context.Context) ([]account.AssetBalance, error) {
	if err := c.delay(ctx, "fetch_balances"); err != nil {
		return nil, err
	}
	balances, err := c.venue.balanceSnapshot()
	if err != nil {
		return nil, c.offline("fetch_balances", err)
	}
	return balances, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context) ([]order.Order[order.Open], error) {
	if err := c.delay(ctx, "fetch_open_orders"); err != nil {
		return nil, err
	}
	orders, err := c.venue.openOrders()
	if err != nil {
		return nil, c.offline("fetch_open_orders", err)
	}
	return orders, nil
}

func (c *Client) FetchTrades(ctx context.Context, since time.Time) ([]account.Trade, error) {
	if err := c.delay(ctx, "fetch_trades"); err != nil {
		return nil, err
	}
	trades, err := c.venue.tradesSince(since)
	if err != nil {
		return nil, c.offline("fetch_trades", err)
	}
	return trades, nil
}

// delay 模拟网络延迟，ctx 结束时返回调用级错误。
func (c *Client) delay(ctx context.Context, op string) error {
	if c.latency <= 0 {
		if err := ctx.Err(); err != nil {
			return execution.FromContext(c.Exchange(), op, err)
		}
		return nil
	}

	timer := time.NewTimer(c.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return execution.FromContext(c.Exchange(), op, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (c *Client) offline(op string, err error) error {
	return execution.NewClientError(execution.ClientErrorConnectivity, c.Exchange(), op, err)
}
