package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

type openOrderRequest struct {
	ClientID    string          `json:"cid" validate:"omitempty,max=64"`
	Instrument  string          `json:"instrument" validate:"required"`
	Side        string          `json:"side" validate:"required,oneof=buy sell"`
	Kind        string          `json:"kind" validate:"required,oneof=market limit"`
	TimeInForce string          `json:"time_in_force" validate:"omitempty,oneof=gtc ioc fok post_only"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	ReduceOnly  bool            `json:"reduce_only"`
}

type openOrdersBody struct {
	Orders []openOrderRequest `json:"orders" validate:"required,min=1,max=100,dive"`
}

type cancelOrderRequest struct {
	ClientID   string `json:"cid" validate:"required_without=ID,max=64"`
	ID         string `json:"id" validate:"required_without=ClientID"`
	Instrument string `json:"instrument" validate:"required"`
	Side       string `json:"side" validate:"omitempty,oneof=buy sell"`
}

type cancelOrdersBody struct {
	Orders []cancelOrderRequest `json:"orders" validate:"required,min=1,max=100,dive"`
}

// 数量与价格的合法性由 RequestOpen.Validate 判定，以单笔结果返回。
func (r openOrderRequest) toOrder(exchange instrument.ExchangeID) order.Order[order.RequestOpen] {
	cid := order.ClientID(r.ClientID)
	if cid == "" {
		cid = order.NewClientID()
	}
	return order.NewRequestOpen(exchange, instrument.NameExchange(r.Instrument), cid, order.Side(r.Side), order.RequestOpen{
		Kind:        order.Kind(r.Kind),
		TimeInForce: order.TimeInForce(r.TimeInForce),
		Price:       r.Price,
		Quantity:    r.Quantity,
		ReduceOnly:  r.ReduceOnly,
	})
}

func (r cancelOrderRequest) toOrder(exchange instrument.ExchangeID) order.Order[order.RequestCancel] {
	cid := order.ClientID(r.ClientID)
	if cid == "" {
		cid = order.ClientID(r.ID)
	}
	return order.NewRequestCancel(exchange, instrument.NameExchange(r.Instrument), cid, order.Side(r.Side), order.RequestCancel{
		ID: order.ID(r.ID),
	})
}

func formatValidationError(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = err.Error()
		return out
	}
	for _, e := range verrs {
		out[e.Namespace()] = "failed on tag '" + e.Tag() + "'"
	}
	return out
}

// splitList 解析逗号分隔或重复出现的查询参数。
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// parseSince 支持 RFC3339 与毫秒时间戳，空值返回零值。
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	ms, err := decimal.NewFromString(raw)
	if err != nil || !ms.IsInteger() || ms.IsNegative() {
		return time.Time{}, errors.New("since 需为 RFC3339 或毫秒时间戳")
	}
	return time.UnixMilli(ms.IntPart()).UTC(), nil
}
