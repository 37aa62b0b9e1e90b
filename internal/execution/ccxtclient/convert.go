package ccxtclient

import (
	"sort"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"

	"trades-exec/internal/account"
	"trades-exec/internal/instrument"
	"trades-exec/internal/order"
)

// orderParams 生成下单附加参数。
func orderParams(exchange instrument.ExchangeID, req order.RequestOpen, cid order.ClientID) map[string]interface{} {
	params := map[string]interface{}{
		"clientOrderId": exchangeClientID(exchange, cid),
	}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}
	if req.Kind == order.KindLimit {
		switch req.TimeInForce {
		case order.TimeInForceIOC:
			params["timeInForce"] = "IOC"
		case order.TimeInForceFOK:
			params["timeInForce"] = "FOK"
		case order.TimeInForcePostOnly:
			params["postOnly"] = true
		case order.TimeInForceGTC, "":
			params["timeInForce"] = "GTC"
		}
	}
	return params
}

// hyperliquid 的 cloid 要求 0x 前缀的 128 位十六进制串。
func exchangeClientID(exchange instrument.ExchangeID, cid order.ClientID) string {
	if exchange == instrument.ExchangeHyperliquid && !strings.HasPrefix(string(cid), "0x") {
		return "0x" + string(cid)
	}
	return string(cid)
}

func internalClientID(exchange instrument.ExchangeID, raw string) order.ClientID {
	if exchange == instrument.ExchangeHyperliquid {
		raw = strings.TrimPrefix(raw, "0x")
	}
	return order.ClientID(raw)
}

// openState 从交易所返回的订单中提取挂单状态，缺失字段回退到请求值。
func openState(raw ccxt.Order, req order.RequestOpen) order.Open {
	quantity := decimalOf(raw.Amount)
	if !quantity.IsPositive() {
		quantity = req.Quantity
	}
	price := decimalOf(raw.Price)
	if !price.IsPositive() {
		price = decimalOf(raw.Average)
	}
	if !price.IsPositive() {
		price = req.Price
	}
	filled := decimalOf(raw.Filled)
	if filled.GreaterThan(quantity) {
		filled = quantity
	}

	return order.Open{
		ID:             order.ID(derefString(raw.Id)),
		Time:           timeOf(raw.Timestamp),
		Price:          price,
		Quantity:       quantity,
		FilledQuantity: filled,
	}
}

// convertOrder 转换查询到的挂单，ClientOrderId 缺失时以交易所 id 作为 cid。
func convertOrder(exchange instrument.ExchangeID, raw ccxt.Order) (order.Order[order.Open], bool) {
	id := derefString(raw.Id)
	symbol := derefString(raw.Symbol)
	if id == "" || symbol == "" {
		return order.Order[order.Open]{}, false
	}
	side := order.Side(strings.ToLower(derefString(raw.Side)))
	if !side.Valid() {
		return order.Order[order.Open]{}, false
	}

	cid := internalClientID(exchange, derefString(raw.ClientOrderId))
	if cid == "" {
		cid = order.ClientID(id)
	}

	state := openState(raw, order.RequestOpen{})
	return order.NewOpen(exchange, instrument.NameExchange(symbol), cid, side, state), true
}

func convertTrade(raw ccxt.Trade) (account.Trade, bool) {
	id := derefString(raw.Id)
	symbol := derefString(raw.Symbol)
	if id == "" || symbol == "" {
		return account.Trade{}, false
	}
	name := instrument.NameExchange(symbol)
	return account.Trade{
		ID:         account.TradeID(id),
		OrderID:    order.ID(derefString(raw.Order)),
		Instrument: name,
		Quote:      instrument.QuoteOf(name),
		Side:       order.Side(strings.ToLower(derefString(raw.Side))),
		Price:      decimalOf(raw.Price),
		Quantity:   decimalOf(raw.Amount),
		Fee:        decimalOf(raw.Fee.Cost),
		Time:       timeOf(raw.Timestamp),
	}, true
}

// convertBalances 按资产排序输出，free 缺失时以 total - used 推算。
func convertBalances(raw ccxt.Balances, now time.Time) []account.AssetBalance {
	result := make([]account.AssetBalance, 0, len(raw.Total))
	for asset, total := range raw.Total {
		if total == nil {
			continue
		}
		t := decimal.NewFromFloat(*total)
		var free decimal.Decimal
		if v, ok := raw.Free[asset]; ok && v != nil {
			free = decimal.NewFromFloat(*v)
		} else if v, ok := raw.Used[asset]; ok && v != nil {
			free = t.Sub(decimal.NewFromFloat(*v))
		} else {
			free = t
		}
		result = append(result, account.AssetBalance{
			Asset:   instrument.AssetNameExchange(strings.ToUpper(asset)),
			Balance: account.NewBalance(t, free),
			Time:    now,
		})
	}
	if len(result) == 0 {
		if b, ok := marginSummaryBalance(raw.Info, now); ok {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result
}

// marginSummaryBalance 处理 hyperliquid 永续账户只在 info 中给出权益的情况。
func marginSummaryBalance(info map[string]interface{}, now time.Time) (account.AssetBalance, bool) {
	if info == nil {
		return account.AssetBalance{}, false
	}
	summary, ok := info["marginSummary"].(map[string]interface{})
	if !ok {
		return account.AssetBalance{}, false
	}
	total := decimal.NewFromFloat(parseNumeric(summary["accountValue"]))
	if !total.IsPositive() {
		return account.AssetBalance{}, false
	}
	free := decimal.NewFromFloat(parseNumeric(info["withdrawable"]))
	if free.GreaterThan(total) {
		free = total
	}
	return account.AssetBalance{
		Asset:   "USDC",
		Balance: account.NewBalance(total, free),
		Time:    now,
	}, true
}

func decimalOf(v *float64) decimal.Decimal {
	return decimal.NewFromFloat(derefFloat(v))
}

func timeOf(ms *int64) time.Time {
	if ms == nil || *ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(*ms).UTC()
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// parseNumeric 解析 info 字段中形态不一的数值。
func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
