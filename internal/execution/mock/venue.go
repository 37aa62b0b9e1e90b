package mock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trades-exec/internal/account"
	"trades-exec/internal/execution"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// VenueConfig 描述模拟交易所的初始状态。
type VenueConfig struct {
	Exchange    instrument.ExchangeID
	Instruments []instrument.Spec
	Balances    []account.AssetBalance
	Prices      map[instrument.NameExchange]decimal.Decimal
}

type restingOrder struct {
	order order.Order[order.Open]
	spec  instrument.Spec
}

// Venue 为内存中的模拟交易所，由同一 Config 派生的所有 Client 共享。
// 市价单按当前价格立即成交，限价单挂单并冻结资金，直到 Fill 或撤单。
type Venue struct {
	mu       sync.Mutex
	exchange instrument.ExchangeID

	instruments map[instrument.NameExchange]instrument.Spec
	balances    map[instrument.AssetNameExchange]account.Balance
	prices      map[instrument.NameExchange]decimal.Decimal
	orders      map[order.ClientID]*restingOrder
	trades      []account.Trade

	rejectOpen   map[order.ClientID]*order.Error
	rejectCancel map[order.ClientID]*order.Error
	offline      bool

	subs    map[uint64]*subscription
	nextSub uint64
	seq     uint64
}

// NewVenue 创建模拟交易所。
func NewVenue(cfg VenueConfig) *Venue {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = instrument.ExchangeMock
	}

	v := &Venue{
		exchange:     exchange,
		instruments:  make(map[instrument.NameExchange]instrument.Spec, len(cfg.Instruments)),
		balances:     make(map[instrument.AssetNameExchange]account.Balance, len(cfg.Balances)),
		prices:       make(map[instrument.NameExchange]decimal.Decimal, len(cfg.Prices)),
		orders:       make(map[order.ClientID]*restingOrder),
		rejectOpen:   make(map[order.ClientID]*order.Error),
		rejectCancel: make(map[order.ClientID]*order.Error),
		subs:         make(map[uint64]*subscription),
	}
	for _, spec := range cfg.Instruments {
		spec.Exchange = exchange
		v.instruments[spec.Name] = spec
	}
	for _, b := range cfg.Balances {
		v.balances[b.Asset] = b.Balance
	}
	for name, price := range cfg.Prices {
		v.prices[name] = price
	}
	return v
}

// Exchange 返回模拟交易所 id。
func (v *Venue) Exchange() instrument.ExchangeID {
	return v.exchange
}

// SetPrice 设置市价单成交价格。
func (v *Venue) SetPrice(name instrument.NameExchange, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[name] = price
}

// RejectOpen 使指定 ClientID 的开仓请求以给定错误失败。
func (v *Venue) RejectOpen(cid order.ClientID, err *order.Error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectOpen[cid] = err
}

// RejectCancel 使指定 ClientID 的撤单请求以给定错误失败。
func (v *Venue) RejectCancel(cid order.ClientID, err *order.Error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectCancel[cid] = err
}

// SetOffline 模拟断网：调用失败并向订阅方推送连接状态事件。
func (v *Venue) SetOffline(offline bool, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.offline == offline {
		return
	}
	v.offline = offline

	status := account.StatusReconnected
	if offline {
		status = account.StatusDisconnected
	}
	v.publish(account.ConnectionStatus{Status: status, Reason: reason})
}

// Fill 以挂单价格成交 quantity，返回生成的成交记录。
func (v *Venue) Fill(cid order.ClientID, quantity decimal.Decimal) (account.Trade, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	resting, ok := v.orders[cid]
	if !ok {
		return account.Trade{}, fmt.Errorf("mock: 未找到挂单 %s", cid)
	}
	open := resting.order.State()
	if !quantity.IsPositive() || quantity.GreaterThan(open.Remaining()) {
		return account.Trade{}, fmt.Errorf("mock: 成交数量 %s 无效，剩余 %s", quantity, open.Remaining())
	}

	notional := open.Price.Mul(quantity)
	spec := resting.spec
	if resting.order.Side() == order.SideBuy {
		// 资金在挂单时已冻结，这里只减少总额。
		v.adjust(spec.Quote, notional.Neg(), decimal.Zero)
		v.adjust(spec.Base, quantity, quantity)
	} else {
		v.adjust(spec.Base, quantity.Neg(), decimal.Zero)
		v.adjust(spec.Quote, notional, notional)
	}

	open.FilledQuantity = open.FilledQuantity.Add(quantity)
	updated := order.NewOpen(v.exchange, resting.order.Instrument(), cid, resting.order.Side(), open)
	if open.IsFilled() {
		delete(v.orders, cid)
	} else {
		resting.order = updated
	}

	trade := v.recordTrade(updated, open.Price, quantity)
	v.publish(account.TradeFilled{Trade: trade})
	v.publishBalances(spec.Base, spec.Quote)
	return trade, nil
}

func (v *Venue) openOrder(req order.Order[order.RequestOpen]) order.OpenResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.offline {
		return order.RejectOpen(req, execution.OrderErrorFrom(execution.NewClientError(execution.ClientErrorConnectivity, v.exchange, "open_order", errOffline)))
	}
	if err, ok := v.rejectOpen[req.ClientID()]; ok {
		return order.RejectOpen(req, err)
	}
	if _, dup := v.orders[req.ClientID()]; dup {
		return order.RejectOpen(req, order.NewError(order.ErrorRejected, "duplicate client order id"))
	}
	if !req.Side().Valid() {
		return order.RejectOpen(req, order.NewError(order.ErrorInvalidParameters, "invalid side"))
	}
	if err := req.State().Validate(); err != nil {
		return order.RejectOpen(req, order.Wrap(order.ErrorInvalidParameters, err))
	}
	spec, ok := v.instruments[req.Instrument()]
	if !ok {
		return order.RejectOpen(req, order.NewError(order.ErrorInvalidInstrument, "unknown instrument "+string(req.Instrument())))
	}

	state := req.State()
	if state.Kind == order.KindMarket {
		return v.fillMarket(req, spec)
	}

	// 限价单冻结资金。
	reserveAsset, reserveAmount := spec.Quote, state.Price.Mul(state.Quantity)
	if req.Side() == order.SideSell {
		reserveAsset, reserveAmount = spec.Base, state.Quantity
	}
	if v.balances[reserveAsset].Free.LessThan(reserveAmount) {
		return order.RejectOpen(req, order.NewError(order.ErrorInsufficientBalance, "insufficient balance"))
	}
	v.adjust(reserveAsset, decimal.Zero, reserveAmount.Neg())

	open := order.Open{
		ID:             v.nextID("o"),
		Time:           time.Now().UTC(),
		Price:          state.Price,
		Quantity:       state.Quantity,
		FilledQuantity: decimal.Zero,
	}
	res := order.AckOpen(req, open)
	view, _ := order.Opened(res)
	v.orders[req.ClientID()] = &restingOrder{order: view, spec: spec}

	v.publish(account.OrderOpened{Order: view})
	v.publishBalances(reserveAsset)
	return res
}

func (v *Venue) fillMarket(req order.Order[order.RequestOpen], spec instrument.Spec) order.OpenResult {
	state := req.State()
	price, ok := v.prices[req.Instrument()]
	if !ok || !price.IsPositive() {
		return order.RejectOpen(req, order.NewError(order.ErrorRejected, "no market price"))
	}

	notional := price.Mul(state.Quantity)
	if req.Side() == order.SideBuy {
		if v.balances[spec.Quote].Free.LessThan(notional) {
			return order.RejectOpen(req, order.NewError(order.ErrorInsufficientBalance, "insufficient balance"))
		}
		v.adjust(spec.Quote, notional.Neg(), notional.Neg())
		v.adjust(spec.Base, state.Quantity, state.Quantity)
	} else {
		if v.balances[spec.Base].Free.LessThan(state.Quantity) {
			return order.RejectOpen(req, order.NewError(order.ErrorInsufficientBalance, "insufficient balance"))
		}
		v.adjust(spec.Base, state.Quantity.Neg(), state.Quantity.Neg())
		v.adjust(spec.Quote, notional, notional)
	}

	open := order.Open{
		ID:             v.nextID("o"),
		Time:           time.Now().UTC(),
		Price:          price,
		Quantity:       state.Quantity,
		FilledQuantity: state.Quantity,
	}
	res := order.AckOpen(req, open)
	view, _ := order.Opened(res)

	trade := v.recordTrade(view, price, state.Quantity)
	v.publish(account.OrderOpened{Order: view})
	v.publish(account.TradeFilled{Trade: trade})
	v.publishBalances(spec.Base, spec.Quote)
	return res
}

func (v *Venue) cancelOrder(req order.Order[order.RequestCancel]) order.CancelResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.offline {
		return order.RejectCancel(req, execution.OrderErrorFrom(execution.NewClientError(execution.ClientErrorConnectivity, v.exchange, "cancel_order", errOffline)))
	}
	if err, ok := v.rejectCancel[req.ClientID()]; ok {
		return order.RejectCancel(req, err)
	}

	cid := req.ClientID()
	resting, ok := v.orders[cid]
	if !ok && req.State().ID != "" {
		for key, candidate := range v.orders {
			if candidate.order.State().ID == req.State().ID {
				cid, resting, ok = key, candidate, true
				break
			}
		}
	}
	if !ok {
		return order.RejectCancel(req, order.NewError(order.ErrorNotFound, "unknown order"))
	}
	delete(v.orders, cid)

	open := resting.order.State()
	released, asset := open.Remaining(), resting.spec.Base
	if resting.order.Side() == order.SideBuy {
		released, asset = open.Price.Mul(open.Remaining()), resting.spec.Quote
	}
	v.adjust(asset, decimal.Zero, released)

	cancelled := order.Cancelled{ID: open.ID, Time: time.Now().UTC()}
	v.publish(account.OrderCancelled{
		Order: order.NewCancelled(v.exchange, resting.order.Instrument(), resting.order.ClientID(), resting.order.Side(), cancelled),
	})
	v.publishBalances(asset)
	return order.AckCancel(req, cancelled)
}

func (v *Venue) balanceSnapshot() ([]account.AssetBalance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.offline {
		return nil, errOffline
	}
	now := time.Now().UTC()
	result := make([]account.AssetBalance, 0, len(v.balances))
	for asset, balance := range v.balances {
		result = append(result, account.AssetBalance{Asset: asset, Balance: balance, Time: now})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result, nil
}

func (v *Venue) openOrders() ([]order.Order[order.Open], error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.offline {
		return nil, errOffline
	}
	result := make([]order.Order[order.Open], 0, len(v.orders))
	for _, resting := range v.orders {
		result = append(result, resting.order)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClientID() < result[j].ClientID() })
	return result, nil
}

func (v *Venue) tradesSince(since time.Time) ([]account.Trade, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.offline {
		return nil, errOffline
	}
	var result []account.Trade
	for _, trade := range v.trades {
		if !trade.Time.Before(since) {
			result = append(result, trade)
		}
	}
	return result, nil
}

func (v *Venue) subscribe(ctx context.Context, assets []instrument.AssetNameExchange, instruments []instrument.NameExchange) (<-chan account.Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.offline {
		return nil, errOffline
	}

	sub := newSubscription(assets, instruments)
	id := v.nextSub
	v.nextSub++
	v.subs[id] = sub

	go sub.run(ctx, func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	})
	return sub.out, nil
}

// 以下方法需持有 v.mu。

func (v *Venue) adjust(asset instrument.AssetNameExchange, total, free decimal.Decimal) {
	b := v.balances[asset]
	b.Total = b.Total.Add(total)
	b.Free = b.Free.Add(free)
	v.balances[asset] = b
}

func (v *Venue) nextID(prefix string) order.ID {
	v.seq++
	return order.ID(prefix + strconv.FormatUint(v.seq, 10))
}

func (v *Venue) recordTrade(o order.Order[order.Open], price, quantity decimal.Decimal) account.Trade {
	trade := account.Trade{
		ID:         account.TradeID(v.nextID("t")),
		OrderID:    o.State().ID,
		ClientID:   o.ClientID(),
		Instrument: o.Instrument(),
		Quote:      v.instruments[o.Instrument()].Quote,
		Side:       o.Side(),
		Price:      price,
		Quantity:   quantity,
		Fee:        decimal.Zero,
		Time:       time.Now().UTC(),
	}
	v.trades = append(v.trades, trade)
	return trade
}

func (v *Venue) publish(kind account.EventKind) {
	event := account.NewEvent(v.exchange, time.Now().UTC(), kind)
	for _, sub := range v.subs {
		sub.push(event)
	}
}

func (v *Venue) publishBalances(assets ...instrument.AssetNameExchange) {
	now := time.Now().UTC()
	for _, asset := range assets {
		v.publish(account.BalanceUpdated{Balance: account.AssetBalance{Asset: asset, Balance: v.balances[asset], Time: now}})
	}
}
