package ccxtclient

import (
	"errors"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trades-exec/internal/execution"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// classifyError 将 ccxt 错误映射为调用级错误或订单级错误。
// 返回值为 *execution.ClientError 或 *order.Error。
func classifyError(exchange instrument.ExchangeID, op string, err error) error {
	if err == nil {
		return nil
	}

	var clientErr *execution.ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}
	var orderErr *order.Error
	if errors.As(err, &orderErr) {
		return orderErr
	}
	if ctxErr := execution.FromContext(exchange, op, err); ctxErr != nil {
		return ctxErr
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return execution.NewClientError(execution.ClientErrorConnectivity, exchange, op, err)
		case ccxt.RequestTimeoutErrType:
			return execution.NewClientError(execution.ClientErrorTimeout, exchange, op, err)
		case ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType:
			return execution.NewClientError(execution.ClientErrorRateLimit, exchange, op, err)
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return execution.NewClientError(execution.ClientErrorMaintenance, exchange, op, errors.New(message))
		case ccxt.AuthenticationErrorErrType,
			ccxt.PermissionDeniedErrType:
			return execution.NewClientError(execution.ClientErrorAuthentication, exchange, op, err)
		case ccxt.NotSupportedErrType:
			return execution.NewClientError(execution.ClientErrorConfig, exchange, op, err)
		case ccxt.InsufficientFundsErrType:
			return order.Wrap(order.ErrorInsufficientBalance, err)
		case ccxt.OrderNotFoundErrType:
			return order.Wrap(order.ErrorNotFound, err)
		case ccxt.BadSymbolErrType:
			return order.Wrap(order.ErrorInvalidInstrument, err)
		case ccxt.InvalidOrderErrType,
			ccxt.BadRequestErrType:
			return order.Wrap(order.ErrorInvalidParameters, err)
		default:
			return execution.NewClientError(execution.ClientErrorExchange, exchange, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return execution.NewClientError(execution.ClientErrorTimeout, exchange, op, err)
		}
		return execution.NewClientError(execution.ClientErrorConnectivity, exchange, op, err)
	}

	return execution.NewClientError(execution.ClientErrorExchange, exchange, op, err)
}

// readError 用于查询路径：订单级分类在这里没有意义，统一为调用级错误。
func readError(exchange instrument.ExchangeID, op string, err error) error {
	classified := classifyError(exchange, op, err)
	if classified == nil {
		return nil
	}
	var orderErr *order.Error
	if errors.As(classified, &orderErr) {
		return execution.NewClientError(execution.ClientErrorExchange, exchange, op, orderErr)
	}
	return classified
}

// orderError 用于下单/撤单路径，调用级错误包装为 transport。
func orderError(exchange instrument.ExchangeID, op string, err error) *order.Error {
	return execution.OrderErrorFrom(classifyError(exchange, op, err))
}
