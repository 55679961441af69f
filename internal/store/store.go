package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soundbysound/apigateway/internal/model"
)

// timeLayout 定长 UTC 文本时间，保证字符串比较与时间顺序一致
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store 请求日志存储
type Store struct {
	db     *sql.DB
	dbType DBType
	now    func() time.Time
}

// New 按驱动创建存储实例
func New(ctx context.Context, driver, dsn string) (*Store, error) {
	switch DBType(driver) {
	case DBTypeSQLite:
		return NewSQLite(dsn)
	case DBTypePostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLite 创建 SQLite 存储，dbPath 为 :memory: 时使用内存库
func NewSQLite(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != sqliteMemory {
		// 确保目录存在
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL"
	}

	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	configureConnectionPool(db, DBTypeSQLite)

	s := &Store{db: db, dbType: DBTypeSQLite, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewPostgres 连接 PostgreSQL
func NewPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if !strings.HasPrefix(databaseURL, "postgresql://") && !strings.HasPrefix(databaseURL, "postgres://") {
		return nil, fmt.Errorf("unsupported postgres url %q: expected postgres:// or postgresql://", databaseURL)
	}

	db, err := sql.Open(driverPostgres, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	configureConnectionPool(db, DBTypePostgres)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &Store{db: db, dbType: DBTypePostgres, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate 数据库迁移
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			route TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			upstream_model TEXT NOT NULL DEFAULT '',
			key_prefix TEXT NOT NULL DEFAULT '',
			app_name TEXT NOT NULL DEFAULT '',
			client_ip TEXT NOT NULL DEFAULT '',
			client_tool TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON request_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_app ON request_logs(app_name)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_model ON request_logs(model)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ph(i int) string { return placeholder(s.dbType, i) }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveLog 保存请求日志
func (s *Store) SaveLog(ctx context.Context, log *model.RequestLog) error {
	cols := []string{"id", "request_id", "timestamp", "route", "model", "upstream_model",
		"key_prefix", "app_name", "client_ip", "client_tool", "success", "status_code",
		"latency_ms", "prompt_tokens", "completion_tokens", "total_tokens", "error"}
	phs := make([]string, len(cols))
	for i := range cols {
		phs[i] = s.ph(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO request_logs (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.Join(phs, ", "))

	_, err := s.db.ExecContext(ctx, query,
		log.ID, log.RequestID, formatTime(log.Timestamp), log.Route, log.Model, log.UpstreamModel,
		log.KeyPrefix, log.AppName, log.ClientIP, log.ClientTool, boolToInt(log.Success), log.StatusCode,
		log.LatencyMs, log.PromptTokens, log.CompletionTokens, log.TotalTokens, log.Error)
	return err
}

// QueryLogs 查询日志，按时间倒序
func (s *Store) QueryLogs(ctx context.Context, query *model.LogQuery) ([]*model.RequestLog, error) {
	q := `SELECT id, request_id, timestamp, route, model, upstream_model, key_prefix, app_name,
		client_ip, client_tool, success, status_code, latency_ms, prompt_tokens, completion_tokens,
		total_tokens, error FROM request_logs WHERE 1=1`
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND %s = %s", clause, s.ph(len(args)))
	}

	if query.RequestID != "" {
		add("request_id", query.RequestID)
	}
	if query.AppName != "" {
		add("app_name", query.AppName)
	}
	if query.Model != "" {
		add("model", query.Model)
	}
	if query.Route != "" {
		add("route", query.Route)
	}
	if query.Success != nil {
		add("success", boolToInt(*query.Success))
	}

	q += " ORDER BY timestamp DESC"
	if query.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", query.Limit)
	} else {
		q += " LIMIT 100"
	}
	if query.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*model.RequestLog{}
	for rows.Next() {
		var (
			log     model.RequestLog
			ts      string
			success int
		)
		if err := rows.Scan(&log.ID, &log.RequestID, &ts, &log.Route, &log.Model, &log.UpstreamModel,
			&log.KeyPrefix, &log.AppName, &log.ClientIP, &log.ClientTool, &success, &log.StatusCode,
			&log.LatencyMs, &log.PromptTokens, &log.CompletionTokens, &log.TotalTokens, &log.Error); err != nil {
			return nil, err
		}
		log.Timestamp, err = time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		log.Success = success == 1
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

// cutoff 返回 days 天前零点（UTC）的文本时间
func (s *Store) cutoff(days int) string {
	now := s.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return formatTime(day.AddDate(0, 0, -days))
}

// GetDailyStats 获取每日统计
func (s *Store) GetDailyStats(ctx context.Context, days int) ([]*model.DailyStats, error) {
	q := fmt.Sprintf(`
		SELECT
			SUBSTR(timestamp, 1, 10) AS day,
			COUNT(*) AS total_requests,
			ROUND(CAST(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) * 100.0 / COUNT(*) AS NUMERIC), 2) AS success_rate,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			ROUND(CAST(AVG(latency_ms) AS NUMERIC), 2) AS avg_latency
		FROM request_logs
		WHERE timestamp >= %s
		GROUP BY SUBSTR(timestamp, 1, 10)
		ORDER BY day DESC
	`, s.ph(1))

	rows, err := s.db.QueryContext(ctx, q, s.cutoff(days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []*model.DailyStats{}
	for rows.Next() {
		var st model.DailyStats
		if err := rows.Scan(&st.Date, &st.TotalRequests, &st.SuccessRate, &st.TotalTokens, &st.AvgLatency); err != nil {
			return nil, err
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// GetAppStats 按应用统计
func (s *Store) GetAppStats(ctx context.Context, days int) ([]*model.AppStats, error) {
	q := fmt.Sprintf(`
		SELECT
			app_name,
			key_prefix,
			COUNT(*) AS request_count,
			ROUND(CAST(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) * 100.0 / COUNT(*) AS NUMERIC), 2) AS success_rate,
			ROUND(CAST(AVG(latency_ms) AS NUMERIC), 2) AS avg_latency,
			COALESCE(SUM(total_tokens), 0) AS total_tokens
		FROM request_logs
		WHERE timestamp >= %s AND key_prefix <> ''
		GROUP BY app_name, key_prefix
		ORDER BY request_count DESC
	`, s.ph(1))

	rows, err := s.db.QueryContext(ctx, q, s.cutoff(days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []*model.AppStats{}
	for rows.Next() {
		var st model.AppStats
		if err := rows.Scan(&st.AppName, &st.KeyPrefix, &st.RequestCount, &st.SuccessRate, &st.AvgLatency, &st.TotalTokens); err != nil {
			return nil, err
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// CleanOldLogs 清理 retentionDays 天之前的日志
func (s *Store) CleanOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM request_logs WHERE timestamp < %s", s.ph(1)),
		s.cutoff(retentionDays))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
