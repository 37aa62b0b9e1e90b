package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"trades-exec/internal/execution"
	"trades-exec/internal/instrument"
	"trades-exec/internal/journal"
	"trades-exec/internal/order"
)

const (
	clientKey       = "client"
	defaultLimit    = 200
	maxLimit        = 1000
	ndjsonMediaType = "application/x-ndjson"
)

// GET /events?type=&exchange=&limit=
func (s *Server) listEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "审计日志未启用"})
		return
	}

	limit := defaultLimit
	if qs := c.Query("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			limit = min(v, maxLimit)
		}
	}
	entryType := journal.EntryType(strings.ToLower(strings.TrimSpace(c.Query("type"))))
	exchange := strings.ToLower(strings.TrimSpace(c.Query("exchange")))

	entries, err := s.journal.ListEvents(c.Request.Context(), entryType, exchange, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) resolveClient(c *gin.Context) {
	id := instrument.ExchangeID(strings.ToLower(c.Param("exchange")))
	client, ok := s.clients[id]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "未配置的交易所 " + id.String()})
		return
	}
	c.Set(clientKey, client)
	c.Next()
}

func clientFrom(c *gin.Context) execution.Client {
	return c.MustGet(clientKey).(execution.Client)
}

// GET /exchanges/:exchange/snapshot?assets=&instruments=
func (s *Server) snapshot(c *gin.Context) {
	client := clientFrom(c)

	var assets []instrument.AssetNameExchange
	for _, a := range splitList(c.QueryArray("assets")) {
		assets = append(assets, instrument.AssetNameExchange(strings.ToUpper(a)))
	}
	var instruments []instrument.NameExchange
	for _, n := range splitList(c.QueryArray("instruments")) {
		instruments = append(instruments, instrument.NameExchange(n))
	}

	snapshot, err := client.AccountSnapshot(c.Request.Context(), assets, instruments)
	if err != nil {
		s.clientError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GET /exchanges/:exchange/state
// 返回由推送维护的本地视图；stale 为 true 时表示断线后尚未重新对账。
func (s *Server) localState(c *gin.Context) {
	id := clientFrom(c).Exchange()
	state, ok := s.states[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "未维护本地账户视图"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exchange":    id,
		"stale":       state.Stale(),
		"balances":    state.Balances(),
		"open_orders": state.OpenOrders(),
	})
}

// GET /exchanges/:exchange/balances
func (s *Server) balances(c *gin.Context) {
	balances, err := clientFrom(c).FetchBalances(c.Request.Context())
	if err != nil {
		s.clientError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

// GET /exchanges/:exchange/orders/open
func (s *Server) openOrders(c *gin.Context) {
	orders, err := clientFrom(c).FetchOpenOrders(c.Request.Context())
	if err != nil {
		s.clientError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GET /exchanges/:exchange/trades?since=
func (s *Server) trades(c *gin.Context) {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trades, err := clientFrom(c).FetchTrades(c.Request.Context(), since)
	if err != nil {
		s.clientError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// POST /exchanges/:exchange/orders
// 结果按完成顺序逐行输出，单笔失败体现在该行的 error 中。
func (s *Server) placeOrders(c *gin.Context) {
	client := clientFrom(c)

	var body openOrdersBody
	if !s.bind(c, &body) {
		return
	}

	requests := make([]order.Order[order.RequestOpen], 0, len(body.Orders))
	for _, r := range body.Orders {
		requests = append(requests, r.toOrder(client.Exchange()))
	}

	ctx := c.Request.Context()
	results := execution.OpenOrders(ctx, client, requests, s.dispatch...)
	stream(c, s.logger, results, func(res order.OpenResult) {
		if s.journal != nil {
			s.journal.RecordOpenResult(ctx, res)
		}
	})
}

// DELETE /exchanges/:exchange/orders
func (s *Server) cancelOrders(c *gin.Context) {
	client := clientFrom(c)

	var body cancelOrdersBody
	if !s.bind(c, &body) {
		return
	}

	requests := make([]order.Order[order.RequestCancel], 0, len(body.Orders))
	for _, r := range body.Orders {
		requests = append(requests, r.toOrder(client.Exchange()))
	}

	ctx := c.Request.Context()
	results := execution.CancelOrders(ctx, client, requests, s.dispatch...)
	stream(c, s.logger, results, func(res order.CancelResult) {
		if s.journal != nil {
			s.journal.RecordCancelResult(ctx, res)
		}
	})
}

func (s *Server) bind(c *gin.Context, body interface{}) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误", "detail": err.Error()})
		return false
	}
	if err := s.validator.Struct(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"validation_errors": formatValidationError(err)})
		return false
	}
	return true
}

// stream 以 NDJSON 逐条写出结果；客户端断开后继续排空 channel。
func stream[T any](c *gin.Context, logger *zap.Logger, results <-chan T, observe func(T)) {
	c.Header("Content-Type", ndjsonMediaType)
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	broken := false
	for res := range results {
		observe(res)
		if broken {
			continue
		}
		if err := enc.Encode(res); err != nil {
			logger.Warn("写入结果失败", zap.Error(err))
			broken = true
			continue
		}
		c.Writer.Flush()
	}
}

func (s *Server) clientError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	kind := string(execution.ClientErrorExchange)

	var clientErr *execution.ClientError
	if errors.As(err, &clientErr) {
		kind = string(clientErr.Kind)
		switch clientErr.Kind {
		case execution.ClientErrorTimeout:
			status = http.StatusGatewayTimeout
		case execution.ClientErrorRateLimit:
			status = http.StatusTooManyRequests
		case execution.ClientErrorMaintenance:
			status = http.StatusServiceUnavailable
		}
	}

	s.logger.Warn("交易所调用失败",
		zap.String("path", c.FullPath()),
		zap.String("kind", kind),
		zap.Error(err),
	)
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
