package order

import (
	json "github.com/goccy/go-json"

	"trades-exec/internal/instrument"
)

// Order 记录一笔订单的身份及其当前生命周期状态 S。
//
// 字段不可导出：交易所与交易对在整个生命周期内不变，状态迁移只会产生新的
// Order 值，不会原地修改已有值。
type Order[S any] struct {
	exchange   instrument.ExchangeID
	instrument instrument.NameExchange
	cid        ClientID
	side       Side
	state      S
}

// OpenResult 为 OpenOrder 的终态结果。
type OpenResult = Order[Outcome[Open]]

// CancelResult 为 CancelOrder 的终态结果。
type CancelResult = Order[Outcome[Cancelled]]

// NewRequestOpen 构造开仓请求。
func NewRequestOpen(exchange instrument.ExchangeID, name instrument.NameExchange, cid ClientID, side Side, req RequestOpen) Order[RequestOpen] {
	return Order[RequestOpen]{exchange: exchange, instrument: name, cid: cid, side: side, state: req}
}

// NewRequestCancel 构造撤单请求。
func NewRequestCancel(exchange instrument.ExchangeID, name instrument.NameExchange, cid ClientID, side Side, req RequestCancel) Order[RequestCancel] {
	return Order[RequestCancel]{exchange: exchange, instrument: name, cid: cid, side: side, state: req}
}

// NewOpen 供适配器还原交易所上已存在的挂单（查询挂单、账户快照、推送事件）。
func NewOpen(exchange instrument.ExchangeID, name instrument.NameExchange, cid ClientID, side Side, open Open) Order[Open] {
	return Order[Open]{exchange: exchange, instrument: name, cid: cid, side: side, state: open}
}

// NewCancelled 供适配器还原交易所推送的撤单确认。
func NewCancelled(exchange instrument.ExchangeID, name instrument.NameExchange, cid ClientID, side Side, cancelled Cancelled) Order[Cancelled] {
	return Order[Cancelled]{exchange: exchange, instrument: name, cid: cid, side: side, state: cancelled}
}

// CancelRequest 针对一笔挂单生成新的撤单请求。
func CancelRequest(open Order[Open]) Order[RequestCancel] {
	return transition(open, RequestCancel{ID: open.state.ID})
}

// AckOpen 将开仓请求迁移为已确认挂单。
func AckOpen(req Order[RequestOpen], open Open) OpenResult {
	return transition(req, Outcome[Open]{state: open, acked: true})
}

// RejectOpen 将开仓请求迁移为失败终态。
func RejectOpen(req Order[RequestOpen], err *Error) OpenResult {
	return transition(req, Outcome[Open]{err: ensureError(err)})
}

// AckCancel 将撤单请求迁移为已撤销终态。
func AckCancel(req Order[RequestCancel], cancelled Cancelled) CancelResult {
	return transition(req, Outcome[Cancelled]{state: cancelled, acked: true})
}

// RejectCancel 将撤单请求迁移为失败终态。
func RejectCancel(req Order[RequestCancel], err *Error) CancelResult {
	return transition(req, Outcome[Cancelled]{err: ensureError(err)})
}

// Opened 返回成功开仓后的挂单视图，失败时第二个返回值为 false。
func Opened(res OpenResult) (Order[Open], bool) {
	open, ok := res.state.Ok()
	if !ok {
		return Order[Open]{}, false
	}
	return transition(res, open), true
}

// CancelledOrder 返回成功撤单后的视图，失败时第二个返回值为 false。
func CancelledOrder(res CancelResult) (Order[Cancelled], bool) {
	cancelled, ok := res.state.Ok()
	if !ok {
		return Order[Cancelled]{}, false
	}
	return transition(res, cancelled), true
}

func transition[From, To any](from Order[From], state To) Order[To] {
	return Order[To]{
		exchange:   from.exchange,
		instrument: from.instrument,
		cid:        from.cid,
		side:       from.side,
		state:      state,
	}
}

func ensureError(err *Error) *Error {
	if err == nil {
		return NewError(ErrorRejected, "rejected without reason")
	}
	return err
}

func (o Order[S]) Exchange() instrument.ExchangeID {
	return o.exchange
}

func (o Order[S]) Instrument() instrument.NameExchange {
	return o.instrument
}

func (o Order[S]) ClientID() ClientID {
	return o.cid
}

func (o Order[S]) Side() Side {
	return o.side
}

// State 返回状态载荷的副本。
func (o Order[S]) State() S {
	return o.state
}

type orderJSON[S any] struct {
	Exchange   instrument.ExchangeID   `json:"exchange"`
	Instrument instrument.NameExchange `json:"instrument"`
	ClientID   ClientID                `json:"cid"`
	Side       Side                    `json:"side"`
	State      S                       `json:"state"`
}

func (o Order[S]) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON[S]{
		Exchange:   o.exchange,
		Instrument: o.instrument,
		ClientID:   o.cid,
		Side:       o.side,
		State:      o.state,
	})
}
