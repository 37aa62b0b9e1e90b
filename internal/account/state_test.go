package account

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openOrder(cid order.ClientID, id order.ID, qty, filled string) order.Order[order.Open] {
	return order.NewOpen(instrument.ExchangeMock, "BTC/USDT", cid, order.SideBuy, order.Open{
		ID:             id,
		Price:          dec("100"),
		Quantity:       dec(qty),
		FilledQuantity: dec(filled),
	})
}

func baseSnapshot() Snapshot {
	return Snapshot{
		Exchange: instrument.ExchangeMock,
		Balances: []AssetBalance{
			{Asset: "USDT", Balance: NewBalance(dec("1000"), dec("800"))},
			{Asset: "BTC", Balance: NewBalance(dec("1"), dec("1"))},
		},
		Instruments: GroupOrders([]order.Order[order.Open]{openOrder("a", "1", "2", "0")}, nil),
		Time:        time.Now().UTC(),
	}
}

func TestBalanceValidate(t *testing.T) {
	assert.NoError(t, NewBalance(dec("1000"), dec("800")).Validate())
	assert.Error(t, NewBalance(dec("100"), dec("101")).Validate())
	assert.Error(t, NewBalance(dec("-1"), dec("-1")).Validate())
	assert.True(t, NewBalance(dec("1000"), dec("800")).Used().Equal(dec("200")))
}

func TestStateApply(t *testing.T) {
	state := NewState(baseSnapshot())
	require.Len(t, state.OpenOrders(), 1)

	changed := state.Apply(NewEvent(instrument.ExchangeMock, time.Time{}, OrderOpened{Order: openOrder("b", "2", "1", "0")}))
	assert.True(t, changed)
	assert.Len(t, state.OpenOrders(), 2)

	// 已完全成交的确认不会进入挂单视图。
	state.Apply(NewEvent(instrument.ExchangeMock, time.Time{}, OrderOpened{Order: openOrder("m", "9", "1", "1")}))
	assert.Len(t, state.OpenOrders(), 2)

	state.Apply(NewEvent(instrument.ExchangeMock, time.Time{}, TradeFilled{Trade: Trade{OrderID: "1", Quantity: dec("0.5")}}))
	orders := state.OpenOrders()
	require.Len(t, orders, 2)
	assert.True(t, orders[0].State().FilledQuantity.Equal(dec("0.5")))

	state.Apply(NewEvent(instrument.ExchangeMock, time.Time{}, TradeFilled{Trade: Trade{ClientID: "a", Quantity: dec("1.5")}}))
	assert.Len(t, state.OpenOrders(), 1)

	cancelled := order.NewCancelled(instrument.ExchangeMock, "BTC/USDT", "b", order.SideBuy, order.Cancelled{ID: "2"})
	state.Apply(NewEvent(instrument.ExchangeMock, time.Time{}, OrderCancelled{Order: cancelled}))
	assert.Empty(t, state.OpenOrders())

	state.Apply(NewEvent(instrument.ExchangeMock, time.Time{}, BalanceUpdated{Balance: AssetBalance{Asset: "USDT", Balance: NewBalance(dec("900"), dec("900"))}}))
	b, ok := state.Balance("USDT")
	require.True(t, ok)
	assert.True(t, b.Balance.Total.Equal(dec("900")))
}

func TestStateIgnoresOtherExchange(t *testing.T) {
	state := NewState(baseSnapshot())
	changed := state.Apply(NewEvent(instrument.ExchangeBinance, time.Time{}, OrderOpened{Order: openOrder("x", "7", "1", "0")}))
	assert.False(t, changed)
	assert.Len(t, state.OpenOrders(), 1)
}

func TestStateStaleAfterDisconnect(t *testing.T) {
	state := NewState(baseSnapshot())
	assert.False(t, state.Stale())

	state.Apply(NewEvent(instrument.ExchangeMock, time.Time{}, ConnectionStatus{Status: StatusDisconnected, Reason: "read timeout"}))
	assert.True(t, state.Stale())

	state.Reset(baseSnapshot())
	assert.False(t, state.Stale())
}

func TestStateReconcile(t *testing.T) {
	state := NewState(baseSnapshot())
	assert.Empty(t, state.Reconcile(baseSnapshot()))

	later := baseSnapshot()
	later.Balances[0].Balance = NewBalance(dec("1000"), dec("700"))
	later.Instruments = GroupOrders([]order.Order[order.Open]{
		openOrder("a", "1", "2", "1"),
		openOrder("c", "3", "1", "0"),
	}, nil)

	diffs := state.Reconcile(later)
	require.Len(t, diffs, 3)
	kinds := map[DiscrepancyKind]string{}
	for _, d := range diffs {
		kinds[d.Kind] = d.Key
	}
	assert.Equal(t, "USDT", kinds[DiscrepancyBalance])
	assert.Equal(t, "a", kinds[DiscrepancyFill])
	assert.Equal(t, "c", kinds[DiscrepancyMissingOrder])
}

func TestGroupOrdersWithFilter(t *testing.T) {
	orders := []order.Order[order.Open]{
		openOrder("a", "1", "1", "0"),
		order.NewOpen(instrument.ExchangeMock, "ETH/USDT", "b", order.SideSell, order.Open{ID: "2"}),
	}

	grouped := GroupOrders(orders, []instrument.NameExchange{"BTC/USDT", "SOL/USDT"})
	require.Len(t, grouped, 2)
	assert.Equal(t, instrument.NameExchange("BTC/USDT"), grouped[0].Instrument)
	assert.Len(t, grouped[0].Orders, 1)
	assert.Empty(t, grouped[1].Orders)
}

func TestEventJSON(t *testing.T) {
	event := NewEvent(instrument.ExchangeMock, time.Now(), ConnectionStatus{Status: StatusReconnected})
	raw, err := event.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"connection_status"`)
	assert.Contains(t, string(raw), `"status":"reconnected"`)
	assert.Equal(t, instrument.NameExchange(""), event.Instrument())
}
