package account

import (
	"time"

	"github.com/shopspring/decimal"

	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// TradeID 为交易所成交 id。
type TradeID string

// Trade 表示一笔成交。
type Trade struct {
	ID         TradeID                 `json:"id"`
	OrderID    order.ID                `json:"order_id"`
	ClientID   order.ClientID          `json:"cid,omitempty"`
	Instrument instrument.NameExchange `json:"instrument"`
	Quote      instrument.QuoteAsset   `json:"quote"`
	Side       order.Side              `json:"side"`
	Price      decimal.Decimal         `json:"price"`
	Quantity   decimal.Decimal         `json:"quantity"`
	Fee        decimal.Decimal         `json:"fee"`
	Time       time.Time               `json:"time"`
}

// Notional 返回成交额（计价资产）。
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}
