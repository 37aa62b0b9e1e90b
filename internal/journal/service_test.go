package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-exec/internal/account"
	"trades-exec/internal/config"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
	"trades-exec/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, nil)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestListEvents_Filters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	balance := account.NewEvent(instrument.ExchangeMock, time.Now(), account.BalanceUpdated{
		Balance: account.AssetBalance{Asset: "USDT", Balance: account.NewBalance(decimal.NewFromInt(1000), decimal.NewFromInt(800))},
	})
	svc.RecordAccountEvent(ctx, balance)

	req := order.NewRequestOpen(instrument.ExchangeBinance, "BTC/USDT", "c1", order.SideBuy, order.RequestOpen{Kind: order.KindMarket, Quantity: decimal.NewFromInt(1)})
	svc.RecordOpenResult(ctx, order.RejectOpen(req, order.NewError(order.ErrorInsufficientBalance, "insufficient balance")))
	svc.RecordError(ctx, "binance", "订阅失败", errors.New("boom"), map[string]interface{}{"op": "account_stream"})
	svc.RecordDiscrepancies(ctx, "binance", nil)

	all, err := svc.ListEvents(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, EntryError, all[0].Type)

	byExchange, err := svc.ListEvents(ctx, "", "binance", 10)
	require.NoError(t, err)
	assert.Len(t, byExchange, 2)

	opens, err := svc.ListEvents(ctx, EntryOpenResult, "binance", 10)
	require.NoError(t, err)
	require.Len(t, opens, 1)

	raw, ok := opens[0].Payload.(json.RawMessage)
	require.True(t, ok)
	var decoded struct {
		CID   string `json:"cid"`
		State struct {
			OK    bool `json:"ok"`
			Error struct {
				Kind string `json:"kind"`
			} `json:"error"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "c1", decoded.CID)
	assert.False(t, decoded.State.OK)
	assert.Equal(t, "insufficient_balance", decoded.State.Error.Kind)
}

func TestListEvents_Limit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(ctx, Entry{Type: EntrySnapshot, Exchange: "mock", Payload: SnapshotPayload{OpenOrders: i}}))
	}

	entries, err := svc.ListEvents(ctx, EntrySnapshot, "", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.False(t, entries[0].Timestamp.IsZero())
}
