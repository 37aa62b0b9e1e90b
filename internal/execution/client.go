package execution

import (
	"context"
	"time"

	"trades-exec/internal/account"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// Client 是每个交易所适配器必须实现的执行接口，调用方只依赖该接口。
//
// 适配器的构造函数不得发起网络请求；同一个 Client 值可在多个 goroutine 中
// 并发使用，内部共享状态（限频、签名计数、连接）由适配器自行同步。
type Client interface {
	// Exchange 返回适配器对应的交易所。
	Exchange() instrument.ExchangeID

	// AccountSnapshot 一次性读取余额与挂单，任何调用级错误都会使整个快照失败。
	AccountSnapshot(ctx context.Context, assets []instrument.AssetNameExchange, instruments []instrument.NameExchange) (account.Snapshot, error)

	// AccountStream 建立长连接订阅。建立失败返回 *ClientError；建立后断线以
	// account.ConnectionStatus 事件体现，channel 仅在 ctx 结束时关闭。
	AccountStream(ctx context.Context, assets []instrument.AssetNameExchange, instruments []instrument.NameExchange) (<-chan account.Event, error)

	// OpenOrder 总会返回结果，传输与鉴权失败以 *order.Error 体现。
	OpenOrder(ctx context.Context, req order.Order[order.RequestOpen]) order.OpenResult

	// CancelOrder 总会返回结果，语义同 OpenOrder。
	CancelOrder(ctx context.Context, req order.Order[order.RequestCancel]) order.CancelResult

	FetchBalances(ctx context.Context) ([]account.AssetBalance, error)
	FetchOpenOrders(ctx context.Context) ([]order.Order[order.Open], error)
	FetchTrades(ctx context.Context, since time.Time) ([]account.Trade, error)
}

// BatchOpener 由支持原生批量下单的适配器实现，OpenOrders 会优先使用它。
type BatchOpener interface {
	OpenOrders(ctx context.Context, requests []order.Order[order.RequestOpen]) <-chan order.OpenResult
}

// BatchCanceller 由支持原生批量撤单的适配器实现，CancelOrders 会优先使用它。
type BatchCanceller interface {
	CancelOrders(ctx context.Context, requests []order.Order[order.RequestCancel]) <-chan order.CancelResult
}
