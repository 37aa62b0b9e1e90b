package app

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-exec/internal/account"
	"trades-exec/internal/config"
	"trades-exec/internal/execution"
	"trades-exec/internal/execution/mock"
	"trades-exec/internal/instrument"
	"trades-exec/internal/journal"
	"trades-exec/internal/order"
	"trades-exec/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []account.Event
}

func (r *recordingSink) Publish(_ context.Context, events ...account.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) count(typ account.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type() == typ {
			n++
		}
	}
	return n
}

func mockConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		Exchanges: []config.ExchangeConfig{
			{Name: "mock", Markets: []string{"BTC/USDT"}, Assets: []string{"btc", "usdt"}},
		},
		Mock: config.MockConfig{
			Balances: []config.MockBalanceConfig{
				{Asset: "usdt", Total: decimal.NewFromInt(1000), Free: decimal.NewFromInt(1000)},
				{Asset: "BTC", Total: decimal.NewFromInt(1), Free: decimal.NewFromInt(1)},
			},
			Prices: []config.MockPriceConfig{{Market: "BTC/USDT", Price: decimal.NewFromInt(100)}},
		},
		Stream: config.StreamConfig{
			Backoff: config.BackoffConfig{InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond},
		},
		Scheduler: config.SchedulerConfig{ReconcileInterval: time.Hour},
	}
}

func newJournal(t *testing.T) (*store.Store, *journal.Service) {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	svc, err := journal.NewService(context.Background(), st, nil)
	require.NoError(t, err)
	return st, svc
}

func newMock(t *testing.T) *mock.Client {
	t.Helper()
	cfg := mockConfig()
	client, err := newMockClient(cfg.Mock, cfg.Exchanges[0], nil)
	require.NoError(t, err)
	return client
}

func startSupervisor(t *testing.T, client execution.Client, sink *recordingSink, journalSvc *journal.Service) (*supervisor, context.CancelFunc) {
	t.Helper()
	sup := newSupervisor(supervisorConfig{
		instruments:       []instrument.NameExchange{"BTC/USDT"},
		reconcileInterval: time.Hour,
		retryInitial:      5 * time.Millisecond,
		retryMax:          20 * time.Millisecond,
	}, client, journalSvc, sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, sup.run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-sup.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor not ready")
	}
	return sup, cancel
}

func limitBuy(cid order.ClientID) order.Order[order.RequestOpen] {
	return order.NewRequestOpen(instrument.ExchangeMock, "BTC/USDT", cid, order.SideBuy, order.RequestOpen{
		Kind:     order.KindLimit,
		Price:    decimal.NewFromInt(90),
		Quantity: decimal.NewFromInt(2),
	})
}

func TestNewMockClientFromConfig(t *testing.T) {
	client := newMock(t)

	balances, err := client.FetchBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)

	res := client.OpenOrder(context.Background(), order.NewRequestOpen(instrument.ExchangeMock, "BTC/USDT", "m1", order.SideBuy, order.RequestOpen{
		Kind:     order.KindMarket,
		Quantity: decimal.NewFromInt(1),
	}))
	open, ok := res.State().Ok()
	require.True(t, ok, "unexpected error: %v", res.State().Err())
	assert.True(t, open.Price.Equal(decimal.NewFromInt(100)))
}

func TestNewClients_ReportsEveryFailure(t *testing.T) {
	cfg := mockConfig()
	cfg.Exchanges = append(cfg.Exchanges,
		config.ExchangeConfig{Name: "kraken"},
		config.ExchangeConfig{Name: "mock", Markets: []string{"BTCUSDT"}},
	)

	_, err := NewClients(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kraken")
	assert.Contains(t, err.Error(), "BTCUSDT")

	clients, err := NewClients(mockConfig(), nil)
	require.NoError(t, err)
	assert.Contains(t, clients, instrument.ExchangeMock)
}

func TestSupervisor_AppliesStreamEvents(t *testing.T) {
	_, journalSvc := newJournal(t)
	client := newMock(t)
	sink := &recordingSink{}
	sup, _ := startSupervisor(t, client, sink, journalSvc)

	res := client.OpenOrder(context.Background(), limitBuy("l1"))
	require.Nil(t, res.State().Err())

	require.Eventually(t, func() bool {
		return len(sup.State().OpenOrders()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, err := client.Venue().Fill("l1", decimal.NewFromInt(2))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		usdt, ok := sup.State().Balance("USDT")
		return ok && usdt.Balance.Total.Equal(decimal.NewFromInt(820)) &&
			len(sup.State().OpenOrders()) == 0 && sink.count(account.EventTradeFilled) == 1
	}, 2*time.Second, 5*time.Millisecond)

	entries, err := journalSvc.ListEvents(context.Background(), journal.EntryAccountEvent, "mock", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestSupervisor_ReconcilesAfterReconnect(t *testing.T) {
	_, journalSvc := newJournal(t)
	client := newMock(t)
	sink := &recordingSink{}
	sup, _ := startSupervisor(t, client, sink, journalSvc)

	client.Venue().SetOffline(true, "link down")
	require.Eventually(t, sup.State().Stale, 2*time.Second, 5*time.Millisecond)

	client.Venue().SetOffline(false, "")
	require.Eventually(t, func() bool {
		return sink.count(account.EventConnectionStatus) == 2 && !sup.State().Stale()
	}, 2*time.Second, 5*time.Millisecond)

	entries, err := journalSvc.ListEvents(context.Background(), journal.EntrySnapshot, "mock", 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)
}

func TestSupervisor_ReconcileRepairsDrift(t *testing.T) {
	_, journalSvc := newJournal(t)
	client := newMock(t)
	sup, _ := startSupervisor(t, client, &recordingSink{}, journalSvc)

	sup.State().Apply(account.NewEvent(instrument.ExchangeMock, time.Now(), account.BalanceUpdated{
		Balance: account.AssetBalance{Asset: "USDT", Balance: account.NewBalance(decimal.NewFromInt(1), decimal.NewFromInt(1))},
	}))

	sup.reconcile(context.Background(), "test")

	usdt, ok := sup.State().Balance("USDT")
	require.True(t, ok)
	assert.True(t, usdt.Balance.Total.Equal(decimal.NewFromInt(1000)))

	entries, err := journalSvc.ListEvents(context.Background(), journal.EntryDiscrepancy, "mock", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, string(entries[0].Payload.(json.RawMessage)), "balance")
}

func TestSupervisor_RetriesFailedSession(t *testing.T) {
	_, journalSvc := newJournal(t)
	client := newMock(t)
	client.Venue().SetOffline(true, "down at start")

	sup := newSupervisor(supervisorConfig{
		retryInitial: 5 * time.Millisecond,
		retryMax:     10 * time.Millisecond,
	}, client, journalSvc, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	client.Venue().SetOffline(false, "")

	select {
	case <-sup.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not recover")
	}

	entries, err := journalSvc.ListEvents(context.Background(), journal.EntryError, "mock", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	cancel()
	assert.NoError(t, <-done)
}

func TestAppRun(t *testing.T) {
	st, _ := newJournal(t)
	cfg := mockConfig()
	cfg.Gateway = config.GatewayConfig{Enabled: true, Addr: "127.0.0.1:0"}
	sink := &recordingSink{}

	a := New(cfg, nil, st, WithPublisher(sink))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, []string{"mock"}, a.exchangeNames())
}
