package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"trades-exec/internal/instrument"
)

// Balance 表示单个资产的余额。
type Balance struct {
	Total decimal.Decimal `json:"total"`
	Free  decimal.Decimal `json:"free"`
}

// NewBalance 创建余额。
func NewBalance(total, free decimal.Decimal) Balance {
	return Balance{Total: total, Free: free}
}

// Used 返回被占用（挂单冻结）的部分。
func (b Balance) Used() decimal.Decimal {
	return b.Total.Sub(b.Free)
}

// Validate 检查 0 <= free <= total。
func (b Balance) Validate() error {
	if b.Total.IsNegative() || b.Free.IsNegative() {
		return errors.New("account: 余额不能为负")
	}
	if b.Free.GreaterThan(b.Total) {
		return errors.New("account: 可用余额不能大于总余额")
	}
	return nil
}

// Equal 按数值比较余额。
func (b Balance) Equal(other Balance) bool {
	return b.Total.Equal(other.Total) && b.Free.Equal(other.Free)
}

// AssetBalance 为某资产在某时刻的余额。
type AssetBalance struct {
	Asset   instrument.AssetNameExchange `json:"asset"`
	Balance Balance                      `json:"balance"`
	Time    time.Time                    `json:"time"`
}
