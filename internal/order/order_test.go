package order

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-exec/internal/instrument"
)

func makeOpenRequest() Order[RequestOpen] {
	return NewRequestOpen(instrument.ExchangeMock, "BTC/USDT", "cid-1", SideBuy, RequestOpen{
		Kind:     KindLimit,
		Price:    decimal.NewFromInt(50000),
		Quantity: decimal.RequireFromString("0.1"),
	})
}

func TestAckOpen_PreservesIdentity(t *testing.T) {
	req := makeOpenRequest()
	now := time.Now().UTC()

	res := AckOpen(req, Open{ID: "ex-1", Time: now, Price: decimal.NewFromInt(50000), Quantity: decimal.RequireFromString("0.1")})

	assert.Equal(t, req.Exchange(), res.Exchange())
	assert.Equal(t, req.Instrument(), res.Instrument())
	assert.Equal(t, req.ClientID(), res.ClientID())
	assert.Equal(t, req.Side(), res.Side())

	open, ok := res.State().Ok()
	require.True(t, ok)
	assert.Equal(t, ID("ex-1"), open.ID)
	assert.Nil(t, res.State().Err())

	view, ok := Opened(res)
	require.True(t, ok)
	assert.Equal(t, ClientID("cid-1"), view.ClientID())
	assert.Equal(t, ID("ex-1"), view.State().ID)

	// 请求值保持不变。
	assert.Equal(t, KindLimit, req.State().Kind)
}

func TestRejectOpen_CarriesError(t *testing.T) {
	req := makeOpenRequest()
	res := RejectOpen(req, NewError(ErrorInsufficientBalance, "insufficient balance"))

	_, ok := res.State().Ok()
	assert.False(t, ok)
	err := res.State().Err()
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "insufficient balance", err.Error())

	_, ok = Opened(res)
	assert.False(t, ok)

	_, unwrapErr := res.State().Unwrap()
	assert.Error(t, unwrapErr)
}

func TestRejectOpen_NilErrorStillFails(t *testing.T) {
	res := RejectOpen(makeOpenRequest(), nil)
	require.NotNil(t, res.State().Err())
	assert.True(t, errors.Is(res.State().Err(), ErrRejected))
}

func TestZeroOutcomeIsNotSuccess(t *testing.T) {
	var out Outcome[Open]
	_, ok := out.Ok()
	assert.False(t, ok)
	assert.NotNil(t, out.Err())
}

func TestCancelRequestFromOpen(t *testing.T) {
	open := NewOpen(instrument.ExchangeMock, "ETH/USDT", "cid-2", SideSell, Open{ID: "ex-2"})
	req := CancelRequest(open)

	assert.Equal(t, ID("ex-2"), req.State().ID)
	assert.Equal(t, open.Instrument(), req.Instrument())

	cancelled := AckCancel(req, Cancelled{ID: "ex-2", Time: time.Now()})
	view, ok := CancelledOrder(cancelled)
	require.True(t, ok)
	assert.Equal(t, ClientID("cid-2"), view.ClientID())

	failed := RejectCancel(req, NewError(ErrorNotFound, "unknown order"))
	_, ok = CancelledOrder(failed)
	assert.False(t, ok)
	assert.True(t, errors.Is(failed.State().Err(), ErrNotFound))
}

func TestErrorWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: timeout")
	err := Wrap(ErrorTransport, cause)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "dial tcp: timeout", err.Error())
}

func TestRequestOpenValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     RequestOpen
		wantErr string
	}{
		{name: "market ok", req: RequestOpen{Kind: KindMarket, Quantity: decimal.NewFromInt(1)}},
		{name: "zero quantity", req: RequestOpen{Kind: KindMarket}, wantErr: "quantity"},
		{name: "limit without price", req: RequestOpen{Kind: KindLimit, Quantity: decimal.NewFromInt(1)}, wantErr: "price"},
		{name: "unknown kind", req: RequestOpen{Kind: "stop", Quantity: decimal.NewFromInt(1)}, wantErr: "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}

func TestOrderJSON(t *testing.T) {
	res := RejectOpen(makeOpenRequest(), NewError(ErrorNotFound, "unknown order"))
	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "mock", decoded["exchange"])
	assert.Equal(t, "cid-1", decoded["cid"])

	state, ok := decoded["state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, state["ok"])
	errPayload, ok := state["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "not_found", errPayload["kind"])
	assert.Equal(t, "unknown order", errPayload["message"])
}

func TestNewClientIDUnique(t *testing.T) {
	a, b := NewClientID(), NewClientID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 32)
}
