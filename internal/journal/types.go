package journal

import (
	"time"

	"trades-exec/internal/account"
)

// EntryType 表示审计记录类型。
type EntryType string

const (
	EntryAccountEvent EntryType = "account_event"
	EntryOpenResult   EntryType = "open_result"
	EntryCancelResult EntryType = "cancel_result"
	EntrySnapshot     EntryType = "snapshot"
	EntryDiscrepancy  EntryType = "discrepancy"
	EntryError        EntryType = "error"
)

// Entry 封装一条审计记录。
type Entry struct {
	Type      EntryType   `json:"type"`
	Exchange  string      `json:"exchange,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SnapshotPayload 只记录快照摘要，完整挂单另行查询交易所。
type SnapshotPayload struct {
	Balances   []account.AssetBalance `json:"balances"`
	OpenOrders int                    `json:"open_orders"`
	Reason     string                 `json:"reason"`
}

// DiscrepancyPayload 记录一次对账发现的差异。
type DiscrepancyPayload struct {
	Discrepancies []account.Discrepancy `json:"discrepancies"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
