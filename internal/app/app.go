package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-exec/internal/account"
	"trades-exec/internal/config"
	"trades-exec/internal/execution"
	"trades-exec/internal/gateway"
	"trades-exec/internal/instrument"
	"trades-exec/internal/journal"
	"trades-exec/internal/log"
	"trades-exec/internal/publish"
	"trades-exec/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	clients     map[instrument.ExchangeID]execution.Client
	publisher   publish.Publisher
	supervisors map[instrument.ExchangeID]*supervisor
}

// Option 调整 App 的组件，主要用于测试注入。
type Option func(*App)

// WithClients 使用给定的适配器替代按配置构造的适配器。
func WithClients(clients map[instrument.ExchangeID]execution.Client) Option {
	return func(a *App) {
		a.clients = clients
	}
}

// WithPublisher 替换事件投递实现。
func WithPublisher(p publish.Publisher) Option {
	return func(a *App) {
		a.publisher = p
	}
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 为每个交易所启动账户会话，并按配置启动网关，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a.clients == nil {
		clients, err := NewClients(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("初始化交易所适配器失败: %w", err)
		}
		a.clients = clients
	}
	if a.publisher == nil {
		a.publisher = publish.New(a.cfg.Publisher, a.logger)
	}
	defer func() {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("关闭事件投递失败", zap.Error(err))
		}
	}()

	journalSvc, err := journal.NewService(ctx, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化审计日志失败: %w", err)
	}

	hub := gateway.NewHub(a.logger)
	a.supervisors = make(map[instrument.ExchangeID]*supervisor, len(a.clients))
	states := make(map[instrument.ExchangeID]*account.State, len(a.clients))
	for id, client := range a.clients {
		sup := newSupervisor(a.supervisorConfig(id), client, journalSvc, a.publisher, hub,
			log.ForExchange(a.logger, "supervisor", id.String()))
		a.supervisors[id] = sup
		states[id] = sup.State()
	}

	if a.cfg.Gateway.Enabled {
		server := gateway.NewServer(a.cfg.Gateway, gateway.Deps{
			Clients:  a.clients,
			States:   states,
			Journal:  journalSvc,
			Hub:      hub,
			Dispatch: a.dispatchOptions(),
			Logger:   a.logger,
		})
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("启动网关失败: %w", err)
		}
	}

	a.logger.Info("执行服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Strings("exchanges", a.exchangeNames()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, sup := range a.supervisors {
		g.Go(func() error {
			return sup.run(gctx)
		})
	}
	err = g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", ctxErr)
	}
	if err != nil {
		return err
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

func (a *App) supervisorConfig(id instrument.ExchangeID) supervisorConfig {
	cfg := supervisorConfig{
		reconcileInterval: a.cfg.Scheduler.ReconcileInterval,
		retryInitial:      a.cfg.Stream.Backoff.InitialInterval,
		retryMax:          a.cfg.Stream.Backoff.MaxInterval,
	}
	if ex, ok := a.cfg.Exchange(id.String()); ok {
		for _, asset := range ex.Assets {
			cfg.assets = append(cfg.assets, instrument.AssetNameExchange(strings.ToUpper(asset)))
		}
		for _, market := range ex.Markets {
			cfg.instruments = append(cfg.instruments, instrument.NameExchange(market))
		}
	}
	return cfg
}

func (a *App) dispatchOptions() []execution.DispatchOption {
	return []execution.DispatchOption{
		execution.WithConcurrency(a.cfg.Dispatch.Concurrency),
		execution.WithRequestTimeout(a.cfg.Dispatch.RequestTimeout),
	}
}

func (a *App) exchangeNames() []string {
	names := make([]string, 0, len(a.clients))
	for id := range a.clients {
		names = append(names, id.String())
	}
	sort.Strings(names)
	return names
}
