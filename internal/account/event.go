package account

import (
	"time"

	json "github.com/goccy/go-json"

	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// Event 为账户推送事件，Kind 为封闭的事件类型集合之一。
type Event struct {
	Exchange instrument.ExchangeID
	Time     time.Time
	Kind     EventKind
}

// EventKind 只能由本包中的类型实现。
type EventKind interface {
	Type() EventType
	eventKind()
}

// EventType 为事件类型名称。
type EventType string

const (
	EventOrderOpened      EventType = "order_opened"
	EventOrderCancelled   EventType = "order_cancelled"
	EventTradeFilled      EventType = "trade"
	EventBalanceUpdated   EventType = "balance"
	EventConnectionStatus EventType = "connection_status"
)

// OrderOpened 为新订单确认。
type OrderOpened struct {
	Order order.Order[order.Open] `json:"order"`
}

// OrderCancelled 为撤单确认。
type OrderCancelled struct {
	Order order.Order[order.Cancelled] `json:"order"`
}

// TradeFilled 为成交回报。
type TradeFilled struct {
	Trade Trade `json:"trade"`
}

// BalanceUpdated 为余额变动。
type BalanceUpdated struct {
	Balance AssetBalance `json:"balance"`
}

// Status 为连接状态。
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnected  Status = "reconnected"
)

// ConnectionStatus 标记推送连接的断开与恢复，消费方据此识别数据缺口。
type ConnectionStatus struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (OrderOpened) Type() EventType      { return EventOrderOpened }
func (OrderCancelled) Type() EventType   { return EventOrderCancelled }
func (TradeFilled) Type() EventType      { return EventTradeFilled }
func (BalanceUpdated) Type() EventType   { return EventBalanceUpdated }
func (ConnectionStatus) Type() EventType { return EventConnectionStatus }

func (OrderOpened) eventKind()      {}
func (OrderCancelled) eventKind()   {}
func (TradeFilled) eventKind()      {}
func (BalanceUpdated) eventKind()   {}
func (ConnectionStatus) eventKind() {}

// NewEvent 创建事件，时间为零值时使用当前时间。
func NewEvent(exchange instrument.ExchangeID, ts time.Time, kind EventKind) Event {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Event{Exchange: exchange, Time: ts, Kind: kind}
}

// Type 返回事件类型名称。
func (e Event) Type() EventType {
	if e.Kind == nil {
		return ""
	}
	return e.Kind.Type()
}

// Instrument 返回事件关联的交易对，余额与连接事件返回空。
func (e Event) Instrument() instrument.NameExchange {
	switch k := e.Kind.(type) {
	case OrderOpened:
		return k.Order.Instrument()
	case OrderCancelled:
		return k.Order.Instrument()
	case TradeFilled:
		return k.Trade.Instrument
	default:
		return ""
	}
}

type eventJSON struct {
	Exchange instrument.ExchangeID `json:"exchange"`
	Time     time.Time             `json:"time"`
	Type     EventType             `json:"type"`
	Payload  EventKind             `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Exchange: e.Exchange,
		Time:     e.Time,
		Type:     e.Type(),
		Payload:  e.Kind,
	})
}
