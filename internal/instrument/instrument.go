package instrument

import (
	"fmt"
	"strings"
)

// ExchangeID 标识一个交易所（与 ccxt 交易所 id 保持一致）。
type ExchangeID string

const (
	ExchangeMock        ExchangeID = "mock"
	ExchangeBinance     ExchangeID = "binance"
	ExchangeBinanceUSDM ExchangeID = "binanceusdm"
	ExchangeHyperliquid ExchangeID = "hyperliquid"
)

func (e ExchangeID) String() string {
	return string(e)
}

// NameExchange 为交易所本地的交易对名称，例如 ccxt 统一符号 "BTC/USDT:USDT"。
type NameExchange string

func (n NameExchange) String() string {
	return string(n)
}

// NameInternal 为系统内部的规范化交易对名称，不会直接发送给交易所。
type NameInternal string

// AssetNameExchange 为交易所本地的资产名称。
type AssetNameExchange string

func (a AssetNameExchange) String() string {
	return string(a)
}

// AssetNameInternal 为系统内部的规范化资产名称。
type AssetNameInternal string

// QuoteAsset 表示计价资产。
type QuoteAsset = AssetNameExchange

// Kind 描述交易对类型。
type Kind string

const (
	KindSpot      Kind = "spot"
	KindPerpetual Kind = "perpetual"
)

// Spec 描述交易所上的一个交易对。
type Spec struct {
	Exchange ExchangeID
	Name     NameExchange
	Base     AssetNameExchange
	Quote    AssetNameExchange
	Kind     Kind
}

// Internal 返回规范化名称，如 binanceusdm_btc_usdt_perpetual。
func (s Spec) Internal() NameInternal {
	return NameInternal(strings.ToLower(fmt.Sprintf("%s_%s_%s_%s", s.Exchange, s.Base, s.Quote, s.Kind)))
}

// ParseSymbol 解析 ccxt 统一符号（BASE/QUOTE 或 BASE/QUOTE:SETTLE）。
func ParseSymbol(exchange ExchangeID, symbol string) (Spec, error) {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return Spec{}, fmt.Errorf("instrument: 交易对不能为空")
	}

	kind := KindSpot
	pair := s
	if idx := strings.Index(s, ":"); idx > 0 {
		pair = s[:idx]
		kind = KindPerpetual
	}

	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Spec{}, fmt.Errorf("instrument: 无法解析交易对 %q", symbol)
	}

	return Spec{
		Exchange: exchange,
		Name:     NameExchange(s),
		Base:     AssetNameExchange(strings.ToUpper(parts[0])),
		Quote:    AssetNameExchange(strings.ToUpper(parts[1])),
		Kind:     kind,
	}, nil
}

// QuoteOf 返回交易对的计价资产，无法解析时返回空字符串。
func QuoteOf(name NameExchange) QuoteAsset {
	spec, err := ParseSymbol("", string(name))
	if err != nil {
		return ""
	}
	return spec.Quote
}
