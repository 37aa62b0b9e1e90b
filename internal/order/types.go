package order

import (
	"strings"

	"github.com/google/uuid"
)

// ClientID 为调用方分配的订单 id，在请求与结果之间保持不变。
type ClientID string

// NewClientID 生成随机的客户端订单 id。
func NewClientID() ClientID {
	return ClientID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (c ClientID) String() string {
	return string(c)
}

// ID 为交易所分配的订单 id。
type ID string

func (i ID) String() string {
	return string(i)
}

// Side 表示买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid 判断方向是否合法。
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Kind 表示订单类型。
type Kind string

const (
	KindMarket Kind = "market"
	KindLimit  Kind = "limit"
)

// TimeInForce 表示订单有效期策略。
type TimeInForce string

const (
	TimeInForceGTC      TimeInForce = "gtc"
	TimeInForceIOC      TimeInForce = "ioc"
	TimeInForceFOK      TimeInForce = "fok"
	TimeInForcePostOnly TimeInForce = "post_only"
)
