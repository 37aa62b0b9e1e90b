package execution

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"trades-exec/internal/order"
)

// DispatchOption 调整批量分发行为。
type DispatchOption func(*dispatchConfig)

type dispatchConfig struct {
	concurrency int
	timeout     time.Duration
}

// WithConcurrency 限制同时在途的请求数，n <= 0 表示不限制。
func WithConcurrency(n int) DispatchOption {
	return func(c *dispatchConfig) {
		c.concurrency = n
	}
}

// WithRequestTimeout 为每笔请求单独设置超时，超时以该笔订单的错误返回。
func WithRequestTimeout(d time.Duration) DispatchOption {
	return func(c *dispatchConfig) {
		c.timeout = d
	}
}

// OpenOrders 并发提交一批开仓请求，按完成顺序输出结果。
//
// 每笔请求恰好产生一条结果，单笔失败不会影响其他请求。ctx 取消后不再发起
// 新请求，也不再输出任何结果；channel 在全部在途请求退出后关闭。
func OpenOrders(ctx context.Context, client Client, requests []order.Order[order.RequestOpen], opts ...DispatchOption) <-chan order.OpenResult {
	if batch, ok := client.(BatchOpener); ok {
		return batch.OpenOrders(ctx, requests)
	}
	return dispatch(ctx, requests, client.OpenOrder, order.RejectOpen, opts...)
}

// CancelOrders 并发提交一批撤单请求，语义同 OpenOrders。
func CancelOrders(ctx context.Context, client Client, requests []order.Order[order.RequestCancel], opts ...DispatchOption) <-chan order.CancelResult {
	if batch, ok := client.(BatchCanceller); ok {
		return batch.CancelOrders(ctx, requests)
	}
	return dispatch(ctx, requests, client.CancelOrder, order.RejectCancel, opts...)
}

// Collect 读取 channel 直至关闭。
func Collect[T any](results <-chan T) []T {
	var out []T
	for r := range results {
		out = append(out, r)
	}
	return out
}

func dispatch[Req, Res any](
	ctx context.Context,
	requests []Req,
	call func(context.Context, Req) Res,
	fail func(Req, *order.Error) Res,
	opts ...DispatchOption,
) <-chan Res {
	cfg := dispatchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	out := make(chan Res)

	go func() {
		defer close(out)

		var group errgroup.Group
		if cfg.concurrency > 0 {
			group.SetLimit(cfg.concurrency)
		}

		for _, req := range requests {
			if ctx.Err() != nil {
				break
			}
			group.Go(func() error {
				res := invoke(ctx, req, call, fail, cfg.timeout)
				if ctx.Err() != nil {
					return nil
				}
				select {
				case out <- res:
				case <-ctx.Done():
				}
				return nil
			})
		}

		_ = group.Wait()
	}()

	return out
}

func invoke[Req, Res any](
	ctx context.Context,
	req Req,
	call func(context.Context, Req) Res,
	fail func(Req, *order.Error) Res,
	timeout time.Duration,
) (res Res) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res = fail(req, order.Wrap(order.ErrorTransport, fmt.Errorf("execution: 适配器处理订单时异常: %v", r)))
		}
	}()

	return call(callCtx, req)
}
