// Package gateway 提供执行服务的 HTTP 与 websocket 接口。
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"trades-exec/internal/account"
	"trades-exec/internal/config"
	"trades-exec/internal/execution"
	"trades-exec/internal/instrument"
	"trades-exec/internal/journal"
)

// Deps 为网关依赖的组件。
type Deps struct {
	Clients  map[instrument.ExchangeID]execution.Client
	States   map[instrument.ExchangeID]*account.State
	Journal  *journal.Service
	Hub      *Hub
	Dispatch []execution.DispatchOption
	Logger   *zap.Logger
}

// Server 封装 gin 路由与 http.Server 生命周期。
type Server struct {
	cfg       config.GatewayConfig
	engine    *gin.Engine
	clients   map[instrument.ExchangeID]execution.Client
	states    map[instrument.ExchangeID]*account.State
	journal   *journal.Service
	hub       *Hub
	dispatch  []execution.DispatchOption
	validator *validator.Validate
	logger    *zap.Logger
}

// NewServer 注册全部路由，不监听端口。
func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
	}

	s := &Server{
		cfg:       cfg,
		engine:    gin.New(),
		clients:   deps.Clients,
		states:    deps.States,
		journal:   deps.Journal,
		hub:       hub,
		dispatch:  deps.Dispatch,
		validator: validator.New(),
		logger:    logger.Named("gateway"),
	}

	s.engine.Use(s.requestLogger(), gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/events", s.listEvents)
	s.engine.GET("/ws/events", s.hub.ServeWS)

	ex := s.engine.Group("/exchanges/:exchange", s.resolveClient)
	{
		ex.GET("/snapshot", s.snapshot)
		ex.GET("/state", s.localState)
		ex.GET("/balances", s.balances)
		ex.GET("/orders/open", s.openOrders)
		ex.GET("/trades", s.trades)
		ex.POST("/orders", s.placeOrders)
		ex.DELETE("/orders", s.cancelOrders)
	}
}

// Handler 返回路由，供测试直接使用。
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub 返回 websocket 广播中心。
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start 监听配置的地址，ctx 结束时优雅关闭。监听失败会同步返回。
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("关闭网关失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("网关服务异常", zap.Error(err))
		}
	}()

	s.logger.Info("网关已启动", zap.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
