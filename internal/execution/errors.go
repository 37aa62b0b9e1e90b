package execution

import (
	"context"
	"errors"
	"fmt"

	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// ClientErrorKind 为调用级失败的分类。
type ClientErrorKind string

const (
	ClientErrorConnectivity   ClientErrorKind = "connectivity"
	ClientErrorAuthentication ClientErrorKind = "authentication"
	ClientErrorRateLimit      ClientErrorKind = "rate_limit"
	ClientErrorConfig         ClientErrorKind = "config"
	ClientErrorTimeout        ClientErrorKind = "timeout"
	ClientErrorMaintenance    ClientErrorKind = "maintenance"
	ClientErrorExchange       ClientErrorKind = "exchange"
)

var (
	ErrConnectivity   = &ClientError{Kind: ClientErrorConnectivity}
	ErrAuthentication = &ClientError{Kind: ClientErrorAuthentication}
	ErrRateLimit      = &ClientError{Kind: ClientErrorRateLimit}
	ErrConfig         = &ClientError{Kind: ClientErrorConfig}
	ErrTimeout        = &ClientError{Kind: ClientErrorTimeout}
	// ErrMaintenance 表示交易所处于维护状态，需要上层暂停交易。
	ErrMaintenance = &ClientError{Kind: ClientErrorMaintenance}
	ErrExchange    = &ClientError{Kind: ClientErrorExchange}
)

// ClientError 使整个调用失败（快照、查询、订阅建立），不会被本层重试。
type ClientError struct {
	Kind     ClientErrorKind
	Exchange instrument.ExchangeID
	Op       string
	Err      error
}

// NewClientError 创建调用级错误。
func NewClientError(kind ClientErrorKind, exchange instrument.ExchangeID, op string, err error) *ClientError {
	return &ClientError{Kind: kind, Exchange: exchange, Op: op, Err: err}
}

func (e *ClientError) Error() string {
	msg := string(e.Kind)
	if e.Exchange != "" {
		msg = fmt.Sprintf("%s %s", e.Exchange, msg)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is 按错误类型匹配。
func (e *ClientError) Is(target error) bool {
	var other *ClientError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// FromContext 将 context 的取消/超时转为调用级错误，其余返回 nil。
func FromContext(exchange instrument.ExchangeID, op string, err error) *ClientError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewClientError(ClientErrorTimeout, exchange, op, err)
	case errors.Is(err, context.Canceled):
		return NewClientError(ClientErrorConnectivity, exchange, op, err)
	default:
		return nil
	}
}

// OrderErrorFrom 将单笔订单路径上的任意错误转换为 *order.Error：
// 已是订单错误时原样返回，调用级错误包装为 transport。
func OrderErrorFrom(err error) *order.Error {
	if err == nil {
		return nil
	}
	var orderErr *order.Error
	if errors.As(err, &orderErr) {
		return orderErr
	}
	return order.Wrap(order.ErrorTransport, err)
}

// IsRetryable 判断调用级错误是否值得由适配器重试。
func IsRetryable(err error) bool {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	switch clientErr.Kind {
	case ClientErrorConnectivity, ClientErrorRateLimit, ClientErrorTimeout:
		return !errors.Is(clientErr.Err, context.Canceled) && !errors.Is(clientErr.Err, context.DeadlineExceeded)
	default:
		return false
	}
}
