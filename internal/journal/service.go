// Package journal 将账户事件与下单结果写入 SQLite，仅用于审计与排查，
// 从不作为订单状态的来源。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"trades-exec/internal/account"
	"trades-exec/internal/order"
	"trades-exec/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_type TEXT NOT NULL,
	exchange TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_entries_type ON journal_entries(entry_type);
CREATE INDEX IF NOT EXISTS idx_journal_entries_exchange ON journal_entries(exchange);
`

// Service 负责持久化审计记录。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化审计服务，创建所需表结构。
func NewService(ctx context.Context, store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := store.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("journal: 初始化表失败: %w", err)
	}

	return &Service{
		db:     store.DB(),
		logger: logger.Named("journal"),
	}, nil
}

// Record 写入单条记录。
func (s *Service) Record(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化记录失败: %w", err)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (entry_type, exchange, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(entry.Type), entry.Exchange, string(payload), entry.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入记录失败: %w", err)
	}

	return nil
}

// RecordAccountEvent 记录推送事件。
func (s *Service) RecordAccountEvent(ctx context.Context, event account.Event) {
	s.recordOrWarn(ctx, Entry{
		Type:      EntryAccountEvent,
		Exchange:  event.Exchange.String(),
		Timestamp: event.Time,
		Payload:   event,
	})
}

// RecordOpenResult 记录开仓结果。
func (s *Service) RecordOpenResult(ctx context.Context, res order.OpenResult) {
	s.recordOrWarn(ctx, Entry{
		Type:     EntryOpenResult,
		Exchange: res.Exchange().String(),
		Payload:  res,
	})
}

// RecordCancelResult 记录撤单结果。
func (s *Service) RecordCancelResult(ctx context.Context, res order.CancelResult) {
	s.recordOrWarn(ctx, Entry{
		Type:     EntryCancelResult,
		Exchange: res.Exchange().String(),
		Payload:  res,
	})
}

// RecordSnapshot 记录快照摘要。
func (s *Service) RecordSnapshot(ctx context.Context, snapshot account.Snapshot, reason string) {
	s.recordOrWarn(ctx, Entry{
		Type:      EntrySnapshot,
		Exchange:  snapshot.Exchange.String(),
		Timestamp: snapshot.Time,
		Payload: SnapshotPayload{
			Balances:   snapshot.Balances,
			OpenOrders: len(snapshot.OpenOrders()),
			Reason:     reason,
		},
	})
}

// RecordDiscrepancies 记录对账差异，无差异时不写入。
func (s *Service) RecordDiscrepancies(ctx context.Context, exchange string, diffs []account.Discrepancy) {
	if len(diffs) == 0 {
		return
	}
	s.recordOrWarn(ctx, Entry{
		Type:     EntryDiscrepancy,
		Exchange: exchange,
		Payload:  DiscrepancyPayload{Discrepancies: diffs},
	})
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, exchange, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	s.recordOrWarn(ctx, Entry{
		Type:     EntryError,
		Exchange: exchange,
		Payload:  payload,
	})
}

func (s *Service) recordOrWarn(ctx context.Context, entry Entry) {
	if err := s.Record(ctx, entry); err != nil {
		s.logger.Warn("记录审计事件失败", zap.String("type", string(entry.Type)), zap.Error(err))
	}
}

// ListEvents 按类型与交易所检索最近记录，参数为空表示不过滤。
func (s *Service) ListEvents(ctx context.Context, entryType EntryType, exchange string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT entry_type, exchange, payload, created_at FROM journal_entries WHERE 1 = 1`
	args := make([]interface{}, 0, 3)
	if entryType != "" {
		query += ` AND entry_type = ?`
		args = append(args, string(entryType))
	}
	if exchange != "" {
		query += ` AND exchange = ?`
		args = append(args, exchange)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询记录失败: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			typ     string
			ex      string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &ex, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析记录失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		entries = append(entries, Entry{
			Type:      EntryType(typ),
			Exchange:  ex,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取记录失败: %w", err)
	}

	return entries, nil
}
