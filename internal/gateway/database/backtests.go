// Package database 提供基于 SQLite 的回测任务持久化。
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const backtestsSchema = `
CREATE TABLE IF NOT EXISTS backtests (
    id             TEXT PRIMARY KEY,
    strategy       TEXT NOT NULL,
    date_range     TEXT NOT NULL,
    status         TEXT NOT NULL,
    progress       TEXT NOT NULL DEFAULT '',
    error_kind     TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    result         TEXT NOT NULL DEFAULT '',
    warnings       TEXT NOT NULL DEFAULT '[]',
    correlation_id TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtests_status ON backtests(status);
`

// BacktestRecord 是 backtests 表的一行。
// Result 为引擎输出的原始 JSON，这里不做任何解释。
type BacktestRecord struct {
	ID            string
	Strategy      string
	DateRange     string
	Status        string
	Progress      string
	ErrorKind     string
	ErrorMessage  string
	Result        json.RawMessage
	Warnings      []string
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobStore 持有 SQLite 句柄；字段级更新都是单条语句，天然原子。
type JobStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open 打开（或创建）数据库并执行迁移。
func Open(path string) (*JobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	if _, err := db.Exec(backtestsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化 backtests 表失败: %w", err)
	}
	return &JobStore{db: db}, nil
}

func (s *JobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Insert 新建一条 queued 状态的任务记录。
func (s *JobStore) Insert(ctx context.Context, rec *BacktestRecord) error {
	now := time.Now().UTC()
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return err
	}
	if rec.Warnings == nil {
		warnings = []byte("[]")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtests (id, strategy, date_range, status, progress, error_kind,
			error_message, result, warnings, correlation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', '', '', ?, ?, ?, ?)`,
		rec.ID, rec.Strategy, rec.DateRange, rec.Status, rec.Progress,
		string(warnings), rec.CorrelationID, now, now,
	)
	return err
}

// Get 按 id 读取任务。
func (s *JobStore) Get(ctx context.Context, id string) (*BacktestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, date_range, status, progress, error_kind, error_message,
			result, warnings, correlation_id, created_at, updated_at
		FROM backtests WHERE id = ?`, id)
	return scanBacktest(row)
}

// List 返回全部任务，新的在前。
func (s *JobStore) List(ctx context.Context) ([]BacktestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, date_range, status, progress, error_kind, error_message,
			result, warnings, correlation_id, created_at, updated_at
		FROM backtests ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BacktestRecord
	for rows.Next() {
		rec, err := scanBacktest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateStatus 只改状态字段。
func (s *JobStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE backtests SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	return err
}

// SetProgress 更新粗粒度进度标记（starting/downloading/running）。
func (s *JobStore) SetProgress(ctx context.Context, id, marker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE backtests SET progress = ?, updated_at = ? WHERE id = ?`,
		marker, time.Now().UTC(), id)
	return err
}

// MarkFailed 记录失败类别与信息并置为 failed。
func (s *JobStore) MarkFailed(ctx context.Context, id, kind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE backtests SET status = 'failed', error_kind = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		kind, message, time.Now().UTC(), id)
	return err
}

// MarkFinished 写入结果载荷与累计警告并置为 finished。
func (s *JobStore) MarkFinished(ctx context.Context, id string, result json.RawMessage, warnings []string) error {
	if warnings == nil {
		warnings = []string{}
	}
	wj, err := json.Marshal(warnings)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`UPDATE backtests SET status = 'finished', result = ?, warnings = ?, updated_at = ? WHERE id = ?`,
		string(result), string(wj), time.Now().UTC(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBacktest(row rowScanner) (*BacktestRecord, error) {
	var rec BacktestRecord
	var result, warnings string
	err := row.Scan(&rec.ID, &rec.Strategy, &rec.DateRange, &rec.Status, &rec.Progress,
		&rec.ErrorKind, &rec.ErrorMessage, &result, &warnings, &rec.CorrelationID,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if result != "" {
		rec.Result = json.RawMessage(result)
	}
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("解析警告列表失败: %w", err)
		}
	}
	return &rec, nil
}
