package account

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// State 在快照基础上按推送事件维护单个交易所账户的本地视图。
// 只维护余额与挂单，不涉及持仓与统计。
type State struct {
	mu       sync.RWMutex
	exchange instrument.ExchangeID
	balances map[instrument.AssetNameExchange]AssetBalance
	orders   map[order.ClientID]order.Order[order.Open]
	stale    bool
	updated  time.Time
}

// NewState 使用快照初始化账户视图。
func NewState(snapshot Snapshot) *State {
	s := &State{exchange: snapshot.Exchange}
	s.Reset(snapshot)
	return s
}

// Reset 以新的快照替换全部状态并清除 stale 标记。
func (s *State) Reset(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances = make(map[instrument.AssetNameExchange]AssetBalance, len(snapshot.Balances))
	for _, b := range snapshot.Balances {
		s.balances[b.Asset] = b
	}
	s.orders = make(map[order.ClientID]order.Order[order.Open])
	for _, o := range snapshot.OpenOrders() {
		s.orders[o.ClientID()] = o
	}
	s.stale = false
	s.updated = snapshot.Time
}

// Apply 应用一条推送事件，返回事件是否改变了状态。
func (s *State) Apply(event Event) bool {
	if event.Exchange != "" && event.Exchange != s.exchange {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	switch kind := event.Kind.(type) {
	case OrderOpened:
		if kind.Order.State().IsFilled() {
			break
		}
		s.orders[kind.Order.ClientID()] = kind.Order
		changed = true
	case OrderCancelled:
		if _, ok := s.orders[kind.Order.ClientID()]; ok {
			delete(s.orders, kind.Order.ClientID())
			changed = true
			break
		}
		if cid, ok := s.findByID(kind.Order.State().ID); ok {
			delete(s.orders, cid)
			changed = true
		}
	case TradeFilled:
		changed = s.applyTrade(kind.Trade)
	case BalanceUpdated:
		s.balances[kind.Balance.Asset] = kind.Balance
		changed = true
	case ConnectionStatus:
		if kind.Status == StatusDisconnected || kind.Status == StatusReconnected {
			// 断线期间可能丢失事件，需要重新拉取快照后才能信任本地视图。
			s.stale = true
			changed = true
		}
	}

	if changed && event.Time.After(s.updated) {
		s.updated = event.Time
	}
	return changed
}

func (s *State) applyTrade(trade Trade) bool {
	cid := trade.ClientID
	current, ok := s.orders[cid]
	if !ok {
		cid, ok = s.findByID(trade.OrderID)
		if !ok {
			return false
		}
		current = s.orders[cid]
	}

	open := current.State()
	open.FilledQuantity = open.FilledQuantity.Add(trade.Quantity)
	if open.IsFilled() {
		delete(s.orders, cid)
		return true
	}
	s.orders[cid] = order.NewOpen(current.Exchange(), current.Instrument(), current.ClientID(), current.Side(), open)
	return true
}

func (s *State) findByID(id order.ID) (order.ClientID, bool) {
	if id == "" {
		return "", false
	}
	for cid, o := range s.orders {
		if o.State().ID == id {
			return cid, true
		}
	}
	return "", false
}

// Stale 表示自上次快照以来是否经历过断线。
func (s *State) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// Exchange 返回所属交易所。
func (s *State) Exchange() instrument.ExchangeID {
	return s.exchange
}

// Balance 查询资产余额。
func (s *State) Balance(asset instrument.AssetNameExchange) (AssetBalance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[asset]
	return b, ok
}

// Balances 返回按资产名排序的余额。
func (s *State) Balances() []AssetBalance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]AssetBalance, 0, len(s.balances))
	for _, b := range s.balances {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result
}

// OpenOrders 返回按 ClientID 排序的挂单。
func (s *State) OpenOrders() []order.Order[order.Open] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]order.Order[order.Open], 0, len(s.orders))
	for _, o := range s.orders {
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClientID() < result[j].ClientID() })
	return result
}

// DiscrepancyKind 为对账差异类型。
type DiscrepancyKind string

const (
	DiscrepancyBalance      DiscrepancyKind = "balance"
	DiscrepancyMissingOrder DiscrepancyKind = "missing_order"
	DiscrepancyExtraOrder   DiscrepancyKind = "extra_order"
	DiscrepancyFill         DiscrepancyKind = "fill"
)

// Discrepancy 描述本地视图与权威快照之间的差异。
type Discrepancy struct {
	Kind   DiscrepancyKind `json:"kind"`
	Key    string          `json:"key"`
	Detail string          `json:"detail"`
}

// Reconcile 将本地视图与一份更新的快照对比，返回所有矛盾之处。
func (s *State) Reconcile(snapshot Snapshot) []Discrepancy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var diffs []Discrepancy
	for _, b := range snapshot.Balances {
		local, ok := s.balances[b.Asset]
		if !ok {
			continue
		}
		if !local.Balance.Equal(b.Balance) {
			diffs = append(diffs, Discrepancy{
				Kind:   DiscrepancyBalance,
				Key:    string(b.Asset),
				Detail: fmt.Sprintf("local total=%s free=%s, exchange total=%s free=%s", local.Balance.Total, local.Balance.Free, b.Balance.Total, b.Balance.Free),
			})
		}
	}

	remote := make(map[order.ClientID]order.Order[order.Open])
	for _, o := range snapshot.OpenOrders() {
		remote[o.ClientID()] = o
		local, ok := s.orders[o.ClientID()]
		if !ok {
			diffs = append(diffs, Discrepancy{Kind: DiscrepancyMissingOrder, Key: string(o.ClientID()), Detail: "open on exchange but unknown locally"})
			continue
		}
		if !local.State().FilledQuantity.Equal(o.State().FilledQuantity) {
			diffs = append(diffs, Discrepancy{
				Kind:   DiscrepancyFill,
				Key:    string(o.ClientID()),
				Detail: fmt.Sprintf("local filled=%s, exchange filled=%s", local.State().FilledQuantity, o.State().FilledQuantity),
			})
		}
	}
	for cid := range s.orders {
		if _, ok := remote[cid]; !ok {
			diffs = append(diffs, Discrepancy{Kind: DiscrepancyExtraOrder, Key: string(cid), Detail: "open locally but not on exchange"})
		}
	}

	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].Kind != diffs[j].Kind {
			return diffs[i].Kind < diffs[j].Kind
		}
		return diffs[i].Key < diffs[j].Key
	})
	return diffs
}
