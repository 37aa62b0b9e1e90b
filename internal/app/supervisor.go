package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"trades-exec/internal/account"
	"trades-exec/internal/execution"
	"trades-exec/internal/instrument"
	"trades-exec/internal/journal"
	"trades-exec/internal/publish"
)

var errStreamClosed = errors.New("账户推送意外关闭")

// broadcaster 将事件转发给在线订阅者。
type broadcaster interface {
	Broadcast(events ...account.Event)
}

type supervisorConfig struct {
	assets            []instrument.AssetNameExchange
	instruments       []instrument.NameExchange
	reconcileInterval time.Duration
	retryInitial      time.Duration
	retryMax          time.Duration
}

// supervisor 维护单个交易所的账户视图：快照初始化，推送增量更新，
// 重连后与定期对账时以新快照为准。会话失败后按退避重建。
type supervisor struct {
	cfg       supervisorConfig
	client    execution.Client
	state     *account.State
	journal   *journal.Service
	publisher publish.Publisher
	hub       broadcaster
	logger    *zap.Logger

	ready chan struct{}
}

func newSupervisor(cfg supervisorConfig, client execution.Client, journalSvc *journal.Service, publisher publish.Publisher, hub broadcaster, logger *zap.Logger) *supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = publish.Nop{}
	}
	if cfg.reconcileInterval <= 0 {
		cfg.reconcileInterval = time.Minute
	}
	if cfg.retryInitial <= 0 {
		cfg.retryInitial = 500 * time.Millisecond
	}
	if cfg.retryMax < cfg.retryInitial {
		cfg.retryMax = 30 * cfg.retryInitial
	}
	return &supervisor{
		cfg:       cfg,
		client:    client,
		state:     account.NewState(account.Snapshot{Exchange: client.Exchange()}),
		journal:   journalSvc,
		publisher: publisher,
		hub:       hub,
		logger:    logger,
		ready:     make(chan struct{}),
	}
}

// State 返回本地账户视图，首个快照完成前为空。
func (s *supervisor) State() *account.State {
	return s.state
}

func (s *supervisor) run(ctx context.Context) error {
	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = s.cfg.retryInitial
	delays.MaxInterval = s.cfg.retryMax
	delays.Reset()

	for {
		started := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// 会话维持过一段时间说明并非持续性故障，重新从最短间隔开始退避。
		if time.Since(started) > s.cfg.retryMax {
			delays.Reset()
		}
		wait := delays.NextBackOff()
		if wait == backoff.Stop {
			wait = s.cfg.retryMax
		}

		s.logger.Warn("账户会话中断，等待重建", zap.Duration("wait", wait), zap.Error(err))
		s.recordError(ctx, "账户会话中断", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *supervisor) session(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshot, err := s.client.AccountSnapshot(sctx, s.cfg.assets, s.cfg.instruments)
	if err != nil {
		return err
	}
	s.state.Reset(snapshot)
	s.journalSnapshot(ctx, snapshot, "initial")

	stream, err := s.client.AccountStream(sctx, s.cfg.assets, s.cfg.instruments)
	if err != nil {
		return err
	}
	s.logger.Info("账户会话已建立",
		zap.Int("balances", len(snapshot.Balances)),
		zap.Int("open_orders", len(snapshot.OpenOrders())),
	)
	// 快照与订阅之间可能漏掉事件，订阅建立后立即对账一次。
	s.reconcile(sctx, "subscribed")
	s.markReady()

	ticker := time.NewTicker(s.cfg.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-stream:
			if !ok {
				return errStreamClosed
			}
			s.handle(sctx, event)
			if status, isStatus := event.Kind.(account.ConnectionStatus); isStatus && status.Status == account.StatusReconnected {
				s.reconcile(sctx, "reconnected")
			}
		case <-ticker.C:
			s.reconcile(sctx, "scheduled")
		}
	}
}

func (s *supervisor) handle(ctx context.Context, event account.Event) {
	s.state.Apply(event)

	if status, ok := event.Kind.(account.ConnectionStatus); ok {
		s.logger.Warn("账户推送连接状态变化",
			zap.String("status", string(status.Status)),
			zap.String("reason", status.Reason),
		)
	}

	if s.journal != nil {
		s.journal.RecordAccountEvent(ctx, event)
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("投递账户事件失败", zap.String("type", string(event.Type())), zap.Error(err))
	}
	if s.hub != nil {
		s.hub.Broadcast(event)
	}
}

// reconcile 拉取新快照与本地视图对比，存在差异或视图已 stale 时以快照为准。
// 快照失败只记录日志，推送仍在继续。
func (s *supervisor) reconcile(ctx context.Context, reason string) {
	snapshot, err := s.client.AccountSnapshot(ctx, s.cfg.assets, s.cfg.instruments)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("对账快照失败", zap.String("reason", reason), zap.Error(err))
			s.recordError(ctx, "对账快照失败", err)
		}
		return
	}

	diffs := s.state.Reconcile(snapshot)
	stale := s.state.Stale()
	if len(diffs) == 0 && !stale {
		return
	}

	s.logger.Warn("本地账户视图与交易所不一致，已重置",
		zap.String("reason", reason),
		zap.Int("discrepancies", len(diffs)),
		zap.Bool("stale", stale),
	)
	s.state.Reset(snapshot)
	s.journalSnapshot(ctx, snapshot, reason)
	if s.journal != nil {
		s.journal.RecordDiscrepancies(ctx, s.client.Exchange().String(), diffs)
	}
}

func (s *supervisor) journalSnapshot(ctx context.Context, snapshot account.Snapshot, reason string) {
	if s.journal != nil {
		s.journal.RecordSnapshot(ctx, snapshot, reason)
	}
}

func (s *supervisor) recordError(ctx context.Context, msg string, err error) {
	if s.journal == nil {
		return
	}
	// 退出阶段 ctx 已取消，审计写入使用独立 context。
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	s.journal.RecordError(ctx, s.client.Exchange().String(), msg, err, nil)
}

func (s *supervisor) markReady() {
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}
