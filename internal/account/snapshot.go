package account

import (
	"time"

	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// InstrumentSnapshot 为单个交易对上的挂单。
type InstrumentSnapshot struct {
	Instrument instrument.NameExchange   `json:"instrument"`
	Orders     []order.Order[order.Open] `json:"orders"`
}

// Snapshot 为某交易所账户在某一时刻的权威视图。
type Snapshot struct {
	Exchange    instrument.ExchangeID `json:"exchange"`
	Balances    []AssetBalance        `json:"balances"`
	Instruments []InstrumentSnapshot  `json:"instruments"`
	Time        time.Time             `json:"time"`
}

// OpenOrders 展开全部挂单。
func (s Snapshot) OpenOrders() []order.Order[order.Open] {
	var orders []order.Order[order.Open]
	for _, inst := range s.Instruments {
		orders = append(orders, inst.Orders...)
	}
	return orders
}

// Balance 查找资产余额。
func (s Snapshot) Balance(asset instrument.AssetNameExchange) (AssetBalance, bool) {
	for _, b := range s.Balances {
		if b.Asset == asset {
			return b, true
		}
	}
	return AssetBalance{}, false
}

// GroupOrders 按交易对归类挂单，instruments 非空时只保留其中的交易对（且保证每个都有条目）。
func GroupOrders(orders []order.Order[order.Open], instruments []instrument.NameExchange) []InstrumentSnapshot {
	index := make(map[instrument.NameExchange]int)
	result := make([]InstrumentSnapshot, 0, len(instruments))
	for _, name := range instruments {
		if _, ok := index[name]; ok {
			continue
		}
		index[name] = len(result)
		result = append(result, InstrumentSnapshot{Instrument: name, Orders: []order.Order[order.Open]{}})
	}

	for _, o := range orders {
		i, ok := index[o.Instrument()]
		if !ok {
			if len(instruments) > 0 {
				continue
			}
			i = len(result)
			index[o.Instrument()] = i
			result = append(result, InstrumentSnapshot{Instrument: o.Instrument()})
		}
		result[i].Orders = append(result[i].Orders, o)
	}
	return result
}

// FilterBalances 只保留 assets 中的资产，assets 为空时原样返回。
func FilterBalances(balances []AssetBalance, assets []instrument.AssetNameExchange) []AssetBalance {
	if len(assets) == 0 {
		return balances
	}
	wanted := make(map[instrument.AssetNameExchange]struct{}, len(assets))
	for _, a := range assets {
		wanted[a] = struct{}{}
	}
	filtered := make([]AssetBalance, 0, len(assets))
	for _, b := range balances {
		if _, ok := wanted[b.Asset]; ok {
			filtered = append(filtered, b)
		}
	}
	return filtered
}
