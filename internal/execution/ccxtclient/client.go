package ccxtclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-exec/internal/account"
	"trades-exec/internal/config"
	"trades-exec/internal/execution"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultBackoffInitial  = 500 * time.Millisecond
	defaultBackoffMax      = 30 * time.Second
	defaultRetryMinDelay   = 500 * time.Millisecond
	defaultRetryMaxDelay   = 5 * time.Second
	defaultRetryAttempts   = 3
	defaultTradesLookback  = 24 * time.Hour
	maxConcurrentSymbolOps = 4
)

// Option 调整客户端行为。
type Option func(*Client)

// WithPollInterval 设置账户推送的轮询间隔。
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithBackoff 设置推送断线后的重连退避区间。
func WithBackoff(initial, maxInterval time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.backoffInitial = initial
		}
		if maxInterval > 0 {
			c.backoffMax = maxInterval
		}
	}
}

// Client 通过 ccxt 访问交易所，实现 execution.Client。
type Client struct {
	exchange instrument.ExchangeID
	cfg      config.ExchangeConfig
	api      api
	logger   *zap.Logger

	symbols []instrument.NameExchange

	pollInterval   time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration

	loadMarkets   func() error
	marketsMu     sync.Mutex
	marketsLoaded atomic.Bool
}

var _ execution.Client = (*Client)(nil)

// New 根据配置构造客户端，不发起网络请求。
func New(cfg config.ExchangeConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	raw, loadMarkets, err := newAPI(cfg)
	if err != nil {
		return nil, execution.NewClientError(execution.ClientErrorConfig, instrument.ExchangeID(cfg.Name), "new", err)
	}
	return newClient(cfg, raw, loadMarkets, logger, opts...), nil
}

func newClient(cfg config.ExchangeConfig, raw api, loadMarkets func() error, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loadMarkets == nil {
		loadMarkets = func() error { return nil }
	}

	exchange := instrument.ExchangeID(cfg.Name)
	symbols := make([]instrument.NameExchange, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		symbols = append(symbols, instrument.NameExchange(m))
	}

	c := &Client{
		exchange:       exchange,
		cfg:            cfg,
		api:            raw,
		logger:         logger.Named("ccxt").With(zap.String("exchange", cfg.Name)),
		symbols:        symbols,
		pollInterval:   defaultPollInterval,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
		loadMarkets:    loadMarkets,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Exchange() instrument.ExchangeID {
	return c.exchange
}

// AccountSnapshot 并发读取余额与挂单。
func (c *Client) AccountSnapshot(ctx context.Context, assets []instrument.AssetNameExchange, instruments []instrument.NameExchange) (account.Snapshot, error) {
	var (
		balances []account.AssetBalance
		orders   []order.Order[order.Open]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = c.FetchBalances(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		orders, err = c.fetchOpenOrders(gctx, c.scope(instruments))
		return err
	})
	if err := g.Wait(); err != nil {
		return account.Snapshot{}, err
	}

	return account.Snapshot{
		Exchange:    c.exchange,
		Balances:    account.FilterBalances(balances, assets),
		Instruments: account.GroupOrders(orders, instruments),
		Time:        time.Now().UTC(),
	}, nil
}

// OpenOrder 提交单笔订单，从不重试，避免重复下单。
func (c *Client) OpenOrder(ctx context.Context, req order.Order[order.RequestOpen]) order.OpenResult {
	state := req.State()
	if !req.Side().Valid() {
		return order.RejectOpen(req, order.NewError(order.ErrorInvalidParameters, "invalid side"))
	}
	if err := state.Validate(); err != nil {
		return order.RejectOpen(req, order.Wrap(order.ErrorInvalidParameters, err))
	}
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return order.RejectOpen(req, execution.OrderErrorFrom(err))
	}

	symbol := string(req.Instrument())
	side := string(req.Side())
	amount := state.Quantity.InexactFloat64()
	params := orderParams(c.exchange, state, req.ClientID())

	var raw ccxt.Order
	err := c.do(ctx, func() error {
		var callErr error
		switch state.Kind {
		case order.KindMarket:
			raw, callErr = c.api.CreateMarketOrder(symbol, side, amount, ccxt.WithCreateMarketOrderParams(params))
		case order.KindLimit:
			raw, callErr = c.api.CreateLimitOrder(symbol, side, amount, state.Price.InexactFloat64(), ccxt.WithCreateLimitOrderParams(params))
		default:
			callErr = order.NewError(order.ErrorInvalidParameters, fmt.Sprintf("unsupported order kind %s", state.Kind))
		}
		return callErr
	})
	if err != nil {
		orderErr := orderError(c.exchange, "open_order", err)
		c.logger.Warn("下单失败",
			zap.String("cid", req.ClientID().String()),
			zap.String("symbol", symbol),
			zap.String("kind", string(orderErr.Kind)),
			zap.Error(err),
		)
		return order.RejectOpen(req, orderErr)
	}

	open := openState(raw, state)
	if open.ID == "" {
		return order.RejectOpen(req, order.NewError(order.ErrorTransport, "exchange returned order without id"))
	}
	return order.AckOpen(req, open)
}

// CancelOrder 按交易所订单 id 撤单，id 为空时使用 ClientID。
func (c *Client) CancelOrder(ctx context.Context, req order.Order[order.RequestCancel]) order.CancelResult {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return order.RejectCancel(req, execution.OrderErrorFrom(err))
	}

	id := string(req.State().ID)
	var opts []ccxt.CancelOrderOptions
	opts = append(opts, ccxt.WithCancelOrderSymbol(string(req.Instrument())))
	if id == "" {
		id = exchangeClientID(c.exchange, req.ClientID())
		opts = append(opts, ccxt.WithCancelOrderParams(map[string]interface{}{
			"clientOrderId": id,
		}))
	}

	var raw ccxt.Order
	err := c.do(ctx, func() error {
		var callErr error
		raw, callErr = c.api.CancelOrder(id, opts...)
		return callErr
	})
	if err != nil {
		return order.RejectCancel(req, orderError(c.exchange, "cancel_order", err))
	}

	cancelledID := order.ID(derefString(raw.Id))
	if cancelledID == "" {
		cancelledID = req.State().ID
	}
	return order.AckCancel(req, order.Cancelled{ID: cancelledID, Time: timeOf(raw.Timestamp)})
}

func (c *Client) FetchBalances(ctx context.Context) ([]account.AssetBalance, error) {
	var raw ccxt.Balances
	err := c.read(ctx, "fetch_balances", func() error {
		var callErr error
		raw, callErr = c.api.FetchBalance()
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return convertBalances(raw, time.Now().UTC()), nil
}

func (c *Client) FetchOpenOrders(ctx context.Context) ([]order.Order[order.Open], error) {
	return c.fetchOpenOrders(ctx, c.symbols)
}

func (c *Client) FetchTrades(ctx context.Context, since time.Time) ([]account.Trade, error) {
	if since.IsZero() {
		since = time.Now().Add(-defaultTradesLookback)
	}

	var (
		mu     sync.Mutex
		trades []account.Trade
	)
	err := c.eachSymbol(ctx, c.symbols, func(gctx context.Context, symbol instrument.NameExchange) error {
		var raw []ccxt.Trade
		err := c.read(gctx, "fetch_trades", func() error {
			opts := []ccxt.FetchMyTradesOptions{ccxt.WithFetchMyTradesSince(since.UnixMilli())}
			if symbol != "" {
				opts = append(opts, ccxt.WithFetchMyTradesSymbol(string(symbol)))
			}
			var callErr error
			raw, callErr = c.api.FetchMyTrades(opts...)
			return callErr
		})
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		for _, item := range raw {
			if trade, ok := convertTrade(item); ok && !trade.Time.Before(since) {
				trades = append(trades, trade)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortTrades(trades)
	return trades, nil
}

func (c *Client) fetchOpenOrders(ctx context.Context, symbols []instrument.NameExchange) ([]order.Order[order.Open], error) {
	var (
		mu     sync.Mutex
		orders []order.Order[order.Open]
	)
	err := c.eachSymbol(ctx, symbols, func(gctx context.Context, symbol instrument.NameExchange) error {
		var raw []ccxt.Order
		err := c.read(gctx, "fetch_open_orders", func() error {
			var opts []ccxt.FetchOpenOrdersOptions
			if symbol != "" {
				opts = append(opts, ccxt.WithFetchOpenOrdersSymbol(string(symbol)))
			}
			var callErr error
			raw, callErr = c.api.FetchOpenOrders(opts...)
			return callErr
		})
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		for _, item := range raw {
			if o, ok := convertOrder(c.exchange, item); ok {
				orders = append(orders, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortOrders(orders)
	return orders, nil
}

// eachSymbol 对每个交易对并发执行查询；未配置交易对时以空符号调用一次。
func (c *Client) eachSymbol(ctx context.Context, symbols []instrument.NameExchange, fn func(context.Context, instrument.NameExchange) error) error {
	if len(symbols) == 0 {
		return fn(ctx, "")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSymbolOps)
	for _, symbol := range symbols {
		g.Go(func() error {
			return fn(gctx, symbol)
		})
	}
	return g.Wait()
}

// scope 返回本次查询涉及的交易对，未指定时使用配置的全部交易对。
func (c *Client) scope(instruments []instrument.NameExchange) []instrument.NameExchange {
	if len(instruments) > 0 {
		return instruments
	}
	return c.symbols
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded.Load() {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded.Load() {
		return nil
	}

	if err := c.read(ctx, "load_markets", c.loadMarkets); err != nil {
		return err
	}

	c.marketsLoaded.Store(true)
	c.logger.Info("已完成市场元数据加载", zap.Int("symbols", len(c.symbols)))
	return nil
}

// read 执行查询调用：加载市场、异常恢复、可重试错误指数退避重试。
func (c *Client) read(ctx context.Context, op string, fn func() error) error {
	if op != "load_markets" {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
	}
	return c.callWithRetry(ctx, op, func() error {
		return c.do(ctx, fn)
	})
}

// do 在独立 goroutine 中执行阻塞的 ccxt 调用，使 ctx 取消与超时能及时生效。
// 被放弃的调用会在 ccxt 返回后自行结束。
func (c *Client) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("ccxt 调用异常: %v", r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
