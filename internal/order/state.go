package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// RequestOpen 为开仓意图。
type RequestOpen struct {
	Kind        Kind            `json:"kind"`
	TimeInForce TimeInForce     `json:"time_in_force,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	ReduceOnly  bool            `json:"reduce_only,omitempty"`
}

// Validate 检查下单参数。
func (r RequestOpen) Validate() error {
	if !r.Quantity.IsPositive() {
		return errors.New("quantity must be positive")
	}
	switch r.Kind {
	case KindMarket:
	case KindLimit:
		if !r.Price.IsPositive() {
			return errors.New("limit order requires a positive price")
		}
	default:
		return errors.New("unsupported order kind " + string(r.Kind))
	}
	return nil
}

// RequestCancel 为撤单意图。ID 为空时由适配器按 ClientID 查找。
type RequestCancel struct {
	ID ID `json:"id,omitempty"`
}

// Open 表示交易所已确认的挂单。
type Open struct {
	ID             ID              `json:"id"`
	Time           time.Time       `json:"time"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
}

// Remaining 返回未成交数量。
func (o Open) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsFilled 判断是否已完全成交。
func (o Open) IsFilled() bool {
	return !o.Remaining().IsPositive()
}

// Cancelled 表示交易所已确认撤单。
type Cancelled struct {
	ID   ID        `json:"id"`
	Time time.Time `json:"time"`
}
