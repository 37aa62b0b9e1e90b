package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-exec/internal/account"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

type stubBehavior struct {
	delay  time.Duration
	panic  bool
	reject *order.Error
}

type stubClient struct {
	behaviors map[order.ClientID]stubBehavior

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (s *stubClient) Exchange() instrument.ExchangeID { return instrument.ExchangeMock }

func (s *stubClient) AccountSnapshot(context.Context, []instrument.AssetNameExchange, []instrument.NameExchange) (account.Snapshot, error) {
	return account.Snapshot{}, nil
}

func (s *stubClient) AccountStream(context.Context, []instrument.AssetNameExchange, []instrument.NameExchange) (<-chan account.Event, error) {
	return nil, errors.New("not supported")
}

func (s *stubClient) enter() func() {
	s.calls.Add(1)
	current := s.inFlight.Add(1)
	for {
		peak := s.maxInFlight.Load()
		if current <= peak || s.maxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	return func() { s.inFlight.Add(-1) }
}

func (s *stubClient) wait(ctx context.Context, b stubBehavior) error {
	if b.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *stubClient) OpenOrder(ctx context.Context, req order.Order[order.RequestOpen]) order.OpenResult {
	defer s.enter()()
	b := s.behaviors[req.ClientID()]
	if err := s.wait(ctx, b); err != nil {
		return order.RejectOpen(req, OrderErrorFrom(FromContext(s.Exchange(), "open_order", err)))
	}
	if b.panic {
		panic("boom")
	}
	if b.reject != nil {
		return order.RejectOpen(req, b.reject)
	}
	return order.AckOpen(req, order.Open{ID: order.ID("ex-" + req.ClientID()), Quantity: req.State().Quantity})
}

func (s *stubClient) CancelOrder(ctx context.Context, req order.Order[order.RequestCancel]) order.CancelResult {
	defer s.enter()()
	b := s.behaviors[req.ClientID()]
	if err := s.wait(ctx, b); err != nil {
		return order.RejectCancel(req, OrderErrorFrom(err))
	}
	if b.reject != nil {
		return order.RejectCancel(req, b.reject)
	}
	return order.AckCancel(req, order.Cancelled{ID: req.State().ID})
}

func (s *stubClient) FetchBalances(context.Context) ([]account.AssetBalance, error) { return nil, nil }

func (s *stubClient) FetchOpenOrders(context.Context) ([]order.Order[order.Open], error) {
	return nil, nil
}

func (s *stubClient) FetchTrades(context.Context, time.Time) ([]account.Trade, error) {
	return nil, nil
}

func openRequests(cids ...order.ClientID) []order.Order[order.RequestOpen] {
	requests := make([]order.Order[order.RequestOpen], 0, len(cids))
	for i, cid := range cids {
		name := instrument.NameExchange("BTC/USDT")
		if i%2 == 1 {
			name = "ETH/USDT"
		}
		requests = append(requests, order.NewRequestOpen(instrument.ExchangeMock, name, cid, order.SideBuy, order.RequestOpen{
			Kind:     order.KindMarket,
			Quantity: decimal.NewFromInt(1),
		}))
	}
	return requests
}

func TestOpenOrders_OneResultPerRequest(t *testing.T) {
	client := &stubClient{behaviors: map[order.ClientID]stubBehavior{
		"a": {delay: 30 * time.Millisecond},
		"b": {reject: order.NewError(order.ErrorInsufficientBalance, "insufficient balance")},
		"c": {panic: true},
		"d": {},
	}}
	requests := openRequests("a", "b", "c", "d")

	results := Collect(OpenOrders(context.Background(), client, requests))
	require.Len(t, results, len(requests))

	byCID := make(map[order.ClientID]order.OpenResult)
	for _, res := range results {
		_, dup := byCID[res.ClientID()]
		require.False(t, dup, "duplicate result for %s", res.ClientID())
		byCID[res.ClientID()] = res
	}

	for _, req := range requests {
		res, ok := byCID[req.ClientID()]
		require.True(t, ok)
		assert.Equal(t, req.Exchange(), res.Exchange())
		assert.Equal(t, req.Instrument(), res.Instrument())
	}

	_, ok := byCID["a"].State().Ok()
	assert.True(t, ok)
	_, ok = byCID["d"].State().Ok()
	assert.True(t, ok)
	assert.True(t, errors.Is(byCID["b"].State().Err(), order.ErrInsufficientBalance))
	assert.True(t, errors.Is(byCID["c"].State().Err(), order.ErrTransport))
}

func TestOpenOrders_CompletionOrder(t *testing.T) {
	client := &stubClient{behaviors: map[order.ClientID]stubBehavior{
		"slow": {delay: 80 * time.Millisecond},
		"fast": {},
	}}

	results := Collect(OpenOrders(context.Background(), client, openRequests("slow", "fast")))
	require.Len(t, results, 2)
	assert.Equal(t, order.ClientID("fast"), results[0].ClientID())
	assert.Equal(t, order.ClientID("slow"), results[1].ClientID())
}

func TestOpenOrders_EmptyBatch(t *testing.T) {
	client := &stubClient{}
	results := Collect(OpenOrders(context.Background(), client, nil))
	assert.Empty(t, results)
}

func TestOpenOrders_ConcurrencyLimit(t *testing.T) {
	behaviors := make(map[order.ClientID]stubBehavior)
	cids := []order.ClientID{"1", "2", "3", "4", "5", "6"}
	for _, cid := range cids {
		behaviors[cid] = stubBehavior{delay: 20 * time.Millisecond}
	}
	client := &stubClient{behaviors: behaviors}

	results := Collect(OpenOrders(context.Background(), client, openRequests(cids...), WithConcurrency(2)))
	assert.Len(t, results, len(cids))
	assert.LessOrEqual(t, client.maxInFlight.Load(), int32(2))
}

func TestOpenOrders_RequestTimeout(t *testing.T) {
	client := &stubClient{behaviors: map[order.ClientID]stubBehavior{
		"stuck": {delay: time.Second},
		"ok":    {},
	}}

	results := Collect(OpenOrders(context.Background(), client, openRequests("stuck", "ok"), WithRequestTimeout(20*time.Millisecond)))
	require.Len(t, results, 2)
	for _, res := range results {
		if res.ClientID() == "stuck" {
			err := res.State().Err()
			require.NotNil(t, err)
			assert.True(t, errors.Is(err, ErrTimeout))
			continue
		}
		_, ok := res.State().Ok()
		assert.True(t, ok)
	}
}

func TestOpenOrders_CancelStopsDelivery(t *testing.T) {
	client := &stubClient{behaviors: map[order.ClientID]stubBehavior{
		"fast":  {},
		"slow1": {delay: 200 * time.Millisecond},
		"slow2": {delay: 200 * time.Millisecond},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	stream := OpenOrders(ctx, client, openRequests("fast", "slow1", "slow2"))

	first, ok := <-stream
	require.True(t, ok)
	assert.Equal(t, order.ClientID("fast"), first.ClientID())

	cancel()

	var rest []order.OpenResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		rest = Collect(stream)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream was not closed after cancellation")
	}
	assert.Empty(t, rest)
}

func TestCancelOrders_Isolation(t *testing.T) {
	client := &stubClient{behaviors: map[order.ClientID]stubBehavior{
		"B": {reject: order.NewError(order.ErrorNotFound, "unknown order")},
	}}

	var requests []order.Order[order.RequestCancel]
	for _, cid := range []order.ClientID{"A", "B", "C"} {
		requests = append(requests, order.NewRequestCancel(instrument.ExchangeMock, "BTC/USDT", cid, order.SideBuy, order.RequestCancel{ID: order.ID("ex-" + cid)}))
	}

	results := Collect(CancelOrders(context.Background(), client, requests))
	require.Len(t, results, 3)
	for _, res := range results {
		if res.ClientID() == "B" {
			assert.Equal(t, "unknown order", res.State().Err().Error())
			continue
		}
		_, ok := order.CancelledOrder(res)
		assert.True(t, ok)
	}
}

type batchClient struct {
	stubClient
	mu     sync.Mutex
	called bool
}

func (b *batchClient) OpenOrders(_ context.Context, requests []order.Order[order.RequestOpen]) <-chan order.OpenResult {
	b.mu.Lock()
	b.called = true
	b.mu.Unlock()

	out := make(chan order.OpenResult, len(requests))
	for _, req := range requests {
		out <- order.AckOpen(req, order.Open{ID: "batch"})
	}
	close(out)
	return out
}

func TestOpenOrders_UsesNativeBatch(t *testing.T) {
	client := &batchClient{}
	results := Collect(OpenOrders(context.Background(), client, openRequests("x", "y")))
	require.Len(t, results, 2)
	assert.True(t, client.called)
	assert.Zero(t, client.calls.Load())
}

func TestErrorTaxonomy(t *testing.T) {
	clientErr := NewClientError(ClientErrorRateLimit, instrument.ExchangeBinance, "fetch_balance", errors.New("429"))
	assert.True(t, errors.Is(clientErr, ErrRateLimit))
	assert.False(t, errors.Is(clientErr, ErrAuthentication))
	assert.True(t, IsRetryable(clientErr))
	assert.Contains(t, clientErr.Error(), "binance rate_limit (fetch_balance): 429")

	orderErr := OrderErrorFrom(clientErr)
	assert.True(t, errors.Is(orderErr, order.ErrTransport))
	assert.True(t, errors.Is(orderErr, ErrRateLimit))

	rejected := order.NewError(order.ErrorRejected, "price out of bounds")
	assert.Same(t, rejected, OrderErrorFrom(rejected))
	assert.Nil(t, OrderErrorFrom(nil))

	assert.False(t, IsRetryable(NewClientError(ClientErrorAuthentication, "", "", nil)))
	assert.True(t, errors.Is(FromContext("", "x", context.DeadlineExceeded), ErrTimeout))
	assert.Nil(t, FromContext("", "x", errors.New("other")))
}
