package ccxtclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"trades-exec/internal/execution"
)

func newBackOff(initial, maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.Reset()
	return b
}

// callWithRetry 只用于查询路径。连接、超时、限频类错误按指数退避重试，
// 维护与鉴权等错误立即返回。返回值总是 *execution.ClientError。
func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	minDelay := c.cfg.Retry.MinDelay
	if minDelay <= 0 {
		minDelay = defaultRetryMinDelay
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	delays := newBackOff(minDelay, maxDelay)

	attempt := 0
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return execution.FromContext(c.exchange, operation, ctxErr)
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr := readError(c.exchange, operation, err)

		if errors.Is(normalizedErr, execution.ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !execution.IsRetryable(normalizedErr) || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delays.NextBackOff()
		if wait == backoff.Stop || wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return execution.FromContext(c.exchange, operation, ctx.Err())
		case <-timer.C:
		}
	}
}
