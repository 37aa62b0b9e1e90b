package ccxtclient

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-exec/internal/account"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// AccountStream 以轮询方式模拟账户推送：对比相邻两次查询结果生成事件。
// 首次查询失败时直接返回错误；之后的失败以 disconnected 事件体现，
// 按退避重连成功后推送 reconnected 与全量余额。
func (c *Client) AccountStream(ctx context.Context, assets []instrument.AssetNameExchange, instruments []instrument.NameExchange) (<-chan account.Event, error) {
	p := &poller{
		client:      c,
		symbols:     c.scope(instruments),
		assets:      toSet(assets),
		instruments: toSet(instruments),
		orders:      make(map[order.ID]order.Order[order.Open]),
		balances:    make(map[instrument.AssetNameExchange]account.Balance),
		trades:      make(map[account.TradeID]time.Time),
		fills:       make(map[order.ID]decimal.Decimal),
		pending:     make(map[order.ID]order.Order[order.Open]),
	}

	first, err := p.fetch(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	p.baseline(first)

	out := make(chan account.Event)
	go p.run(ctx, out)

	c.logger.Info("已建立账户轮询订阅",
		zap.Duration("interval", c.pollInterval),
		zap.Int("symbols", len(p.symbols)),
	)
	return out, nil
}

type pollResult struct {
	balances []account.AssetBalance
	orders   []order.Order[order.Open]
	trades   []account.Trade
	at       time.Time
}

type poller struct {
	client      *Client
	symbols     []instrument.NameExchange
	assets      map[instrument.AssetNameExchange]struct{}
	instruments map[instrument.NameExchange]struct{}

	orders   map[order.ID]order.Order[order.Open]
	balances map[instrument.AssetNameExchange]account.Balance
	trades   map[account.TradeID]time.Time
	since    time.Time

	// fills 为已知挂单的成交量估计，撤单判断取它与快照中已成交量的较大者。
	fills map[order.ID]decimal.Decimal
	// pending 为上一轮消失、尚未判定的挂单。
	pending map[order.ID]order.Order[order.Open]
}

// tradeOverlap 为成交查询的回看窗口，覆盖交易所入账延迟；重复成交按 id 去重。
const tradeOverlap = time.Minute

func (p *poller) run(ctx context.Context, out chan<- account.Event) {
	defer close(out)

	ticker := time.NewTicker(p.client.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := p.fetch(ctx, time.Now().UTC())
		if err == nil {
			if !p.emit(ctx, out, p.diff(res, false)) {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		p.client.logger.Warn("账户轮询失败，进入重连", zap.Error(err))
		if !p.emit(ctx, out, []account.Event{p.status(account.StatusDisconnected, err.Error())}) {
			return
		}

		res, ok := p.reconnect(ctx)
		if !ok {
			return
		}
		events := append([]account.Event{p.status(account.StatusReconnected, "")}, p.diff(res, true)...)
		if !p.emit(ctx, out, events) {
			return
		}
		ticker.Reset(p.client.pollInterval)
	}
}

// reconnect 按指数退避重试，直到成功或 ctx 结束。
func (p *poller) reconnect(ctx context.Context) (pollResult, bool) {
	delays := newBackOff(p.client.backoffInitial, p.client.backoffMax)
	for attempt := 1; ; attempt++ {
		wait := delays.NextBackOff()
		if wait < 0 {
			wait = p.client.backoffMax
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return pollResult{}, false
		case <-timer.C:
		}

		res, err := p.fetch(ctx, time.Now().UTC())
		if err == nil {
			p.client.logger.Info("账户轮询已恢复", zap.Int("attempts", attempt))
			return res, true
		}
		if ctx.Err() != nil {
			return pollResult{}, false
		}
		p.client.logger.Warn("账户轮询重连失败",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}

func (p *poller) fetch(ctx context.Context, at time.Time) (pollResult, error) {
	res := pollResult{at: at}
	since := p.since.Add(-tradeOverlap)
	if p.since.IsZero() {
		since = at
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res.balances, err = p.client.FetchBalances(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		res.orders, err = p.client.fetchOpenOrders(gctx, p.symbols)
		return err
	})
	g.Go(func() error {
		var err error
		res.trades, err = p.client.FetchTrades(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return pollResult{}, err
	}
	return res, nil
}

// baseline 记录订阅建立时的状态，不产生事件。
func (p *poller) baseline(res pollResult) {
	for _, o := range res.orders {
		p.orders[o.State().ID] = o
		p.fills[o.State().ID] = o.State().FilledQuantity
	}
	for _, b := range res.balances {
		p.balances[b.Asset] = b.Balance
	}
	for _, t := range res.trades {
		p.trades[t.ID] = t.Time
	}
	p.since = res.at
}

// diff 生成事件：新挂单、成交、撤单、余额变化。
// 挂单快照与成交列表并非同一时刻读取，消失的挂单延后一轮判定：
// 届时仍未成交完才视为撤单。allBalances 为 true 时推送全部余额。
func (p *poller) diff(res pollResult, allBalances bool) []account.Event {
	current := make(map[order.ID]order.Order[order.Open], len(res.orders))
	for _, o := range res.orders {
		current[o.State().ID] = o
	}

	var fresh []account.Trade
	tradeQty := make(map[order.ID]decimal.Decimal)
	for _, t := range res.trades {
		if _, seen := p.trades[t.ID]; seen {
			continue
		}
		p.trades[t.ID] = t.Time
		if o, ok := p.lookup(t.OrderID, current); ok {
			t.ClientID = o.ClientID()
		}
		fresh = append(fresh, t)
		tradeQty[t.OrderID] = tradeQty[t.OrderID].Add(t.Quantity)
	}
	sortTrades(fresh)
	for id, qty := range tradeQty {
		if filled, ok := p.fills[id]; ok {
			p.fills[id] = filled.Add(qty)
		}
	}

	var events []account.Event

	for _, o := range res.orders {
		id := o.State().ID
		_, known := p.orders[id]
		_, vanished := p.pending[id]
		if known || vanished {
			delete(p.pending, id)
			p.fills[id] = decimal.Max(p.fills[id], o.State().FilledQuantity)
			continue
		}
		p.fills[id] = o.State().FilledQuantity
		// 本轮成交将以 TradeFilled 推送，这里先扣除，避免消费方重复累计。
		state := o.State()
		state.FilledQuantity = decimal.Max(decimal.Zero, state.FilledQuantity.Sub(tradeQty[id]))
		events = append(events, p.event(res.at, account.OrderOpened{
			Order: order.NewOpen(o.Exchange(), o.Instrument(), o.ClientID(), o.Side(), state),
		}))
	}

	for _, t := range fresh {
		events = append(events, p.event(t.Time, account.TradeFilled{Trade: t}))
	}

	for id, prev := range p.pending {
		delete(p.pending, id)
		filled := decimal.Max(prev.State().FilledQuantity, p.fills[id])
		delete(p.fills, id)
		if filled.GreaterThanOrEqual(prev.State().Quantity) {
			continue
		}
		events = append(events, p.event(res.at, account.OrderCancelled{
			Order: order.NewCancelled(prev.Exchange(), prev.Instrument(), prev.ClientID(), prev.Side(), order.Cancelled{ID: id, Time: res.at}),
		}))
	}
	for id, prev := range p.orders {
		if _, still := current[id]; !still {
			p.pending[id] = prev
		}
	}

	events = append(events, p.balanceEvents(res, allBalances)...)

	p.orders = current
	p.since = res.at
	for id, ts := range p.trades {
		if ts.Before(p.since.Add(-2 * tradeOverlap)) {
			delete(p.trades, id)
		}
	}
	return p.filter(events)
}

func (p *poller) lookup(id order.ID, current map[order.ID]order.Order[order.Open]) (order.Order[order.Open], bool) {
	if o, ok := p.orders[id]; ok {
		return o, true
	}
	if o, ok := p.pending[id]; ok {
		return o, true
	}
	o, ok := current[id]
	return o, ok
}

// balanceEvents 返回变化的余额；all 为 true 时返回全部余额。
func (p *poller) balanceEvents(res pollResult, all bool) []account.Event {
	var events []account.Event
	for _, b := range res.balances {
		prev, ok := p.balances[b.Asset]
		p.balances[b.Asset] = b.Balance
		if !all && ok && prev.Equal(b.Balance) {
			continue
		}
		if p.assets != nil {
			if _, want := p.assets[b.Asset]; !want {
				continue
			}
		}
		events = append(events, p.event(res.at, account.BalanceUpdated{Balance: b}))
	}
	return events
}

func (p *poller) filter(events []account.Event) []account.Event {
	if p.instruments == nil {
		return events
	}
	kept := events[:0]
	for _, e := range events {
		name := e.Instrument()
		if name == "" {
			kept = append(kept, e)
			continue
		}
		if _, ok := p.instruments[name]; ok {
			kept = append(kept, e)
		}
	}
	return kept
}

func (p *poller) event(ts time.Time, kind account.EventKind) account.Event {
	return account.NewEvent(p.client.exchange, ts, kind)
}

func (p *poller) status(status account.Status, reason string) account.Event {
	return p.event(time.Now().UTC(), account.ConnectionStatus{Status: status, Reason: reason})
}

func (p *poller) emit(ctx context.Context, out chan<- account.Event, events []account.Event) bool {
	for _, e := range events {
		select {
		case out <- e:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func toSet[T comparable](items []T) map[T]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[T]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func sortTrades(trades []account.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Time.Equal(trades[j].Time) {
			return trades[i].Time.Before(trades[j].Time)
		}
		return trades[i].ID < trades[j].ID
	})
}

func sortOrders(orders []order.Order[order.Open]) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ClientID() < orders[j].ClientID()
	})
}
