package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/model"
)

// Database is the relational alert store. It fails independently of the
// LogStore: a write lost here may still land there and vice versa; the two
// are only eventually consistent by design.
type Database struct {
	logger *zap.Logger
	path   string
	db     *sql.DB

	mu          sync.Mutex
	initialized bool
}

// NewDatabase opens the SQLite database at path. WAL journaling keeps the
// file friendly to concurrent readers; the busy timeout bounds statement
// latency under contention. Schema creation is deferred to first access.
func NewDatabase(logger *zap.Logger, path string) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=30000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{
		logger: logger.Named("database"),
		path:   path,
		db:     db,
	}, nil
}

// ensureSchema lazily creates the tables and indices. The flag plus mutex
// make concurrent first-callers safe and repeated calls no-ops.
func (d *Database) ensureSchema(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'violation',
			severity INTEGER DEFAULT 1,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
		CREATE TABLE IF NOT EXISTS system_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stat_name TEXT UNIQUE NOT NULL,
			stat_value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	d.initialized = true
	d.logger.Info("Database initialized", zap.String("path", d.path))
	return nil
}

// Insert validates and stores a new alert row and returns its id. Metadata
// is serialized to JSON text.
func (d *Database) Insert(ctx context.Context, message, status string, metadata map[string]interface{}) (int64, error) {
	if err := d.ensureSchema(ctx); err != nil {
		return 0, err
	}

	alert, statusOK, err := model.NewAlert(message, status, metadata, time.Now())
	if err != nil {
		d.logger.Error("Rejected alert", zap.Error(err))
		return 0, err
	}
	if !statusOK {
		d.logger.Warn("Unknown alert status, using violation",
			zap.String("status", status))
	}

	var metadataStr sql.NullString
	if len(alert.Metadata) > 0 {
		data, err := json.Marshal(alert.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataStr = sql.NullString{String: string(data), Valid: true}
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO alerts (timestamp, message, status, severity, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		alert.Time,
		alert.Message,
		string(alert.Status),
		alert.Severity,
		metadataStr,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get alert id: %w", err)
	}

	d.logger.Info("Alert inserted",
		zap.Int64("id", id),
		zap.String("message", alert.Message))
	return id, nil
}

// HistoryEntry is the compact row shape returned by History.
type HistoryEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Status    string `json:"status"`
}

// History returns the newest alerts by creation order, limited to limit
// rows. Non-positive limits default to 50.
func (d *Database) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if err := d.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT timestamp, message, status
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert history: %w", err)
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.Timestamp, &e.Message, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan alert history: %w", err)
		}
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return history, nil
}

// AlertDetail is the full row shape returned by Details, including the
// database-assigned id and row-creation time.
type AlertDetail struct {
	ID        int64       `json:"id"`
	Timestamp string      `json:"timestamp"`
	Message   string      `json:"message"`
	Status    string      `json:"status"`
	Severity  int         `json:"severity"`
	Metadata  interface{} `json:"metadata,omitempty"`
	CreatedAt string      `json:"created_at"`
}

// Details returns the newest alerts with metadata decoded from its stored
// text encoding. Metadata that fails to decode is returned as raw text.
func (d *Database) Details(ctx context.Context, limit int) ([]AlertDetail, error) {
	if err := d.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, timestamp, message, status, severity, metadata, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert details: %w", err)
	}
	defer rows.Close()

	var details []AlertDetail
	for rows.Next() {
		var detail AlertDetail
		var metadata sql.NullString
		if err := rows.Scan(
			&detail.ID,
			&detail.Timestamp,
			&detail.Message,
			&detail.Status,
			&detail.Severity,
			&metadata,
			&detail.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert details: %w", err)
		}

		if metadata.Valid && metadata.String != "" {
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(metadata.String), &decoded); err != nil {
				detail.Metadata = metadata.String
			} else {
				detail.Metadata = decoded
			}
		}
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return details, nil
}

// DBStats aggregates the alerts table.
type DBStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
	Recent24h  int            `json:"recent_24h"`
	Recent1h   int            `json:"recent_1h"`
}

// Stats returns total, per-status and per-severity histograms plus counts
// for the last 24 hours and the last hour.
func (d *Database) Stats(ctx context.Context) (DBStats, error) {
	stats := DBStats{
		ByStatus:   make(map[string]int),
		BySeverity: map[string]int{"none": 0, "low": 0, "medium": 0, "high": 0},
	}
	if err := d.ensureSchema(ctx); err != nil {
		return stats, err
	}

	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts").Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("failed to count alerts: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM alerts GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("failed to count alerts by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error during row iteration: %w", err)
	}

	sevRows, err := d.db.QueryContext(ctx,
		"SELECT severity, COUNT(*) FROM alerts GROUP BY severity")
	if err != nil {
		return stats, fmt.Errorf("failed to count alerts by severity: %w", err)
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var severity, count int
		if err := sevRows.Scan(&severity, &count); err != nil {
			return stats, fmt.Errorf("failed to scan severity count: %w", err)
		}
		stats.BySeverity[model.SeverityName(severity)] += count
	}
	if err := sevRows.Err(); err != nil {
		return stats, fmt.Errorf("error during row iteration: %w", err)
	}

	if err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE datetime(created_at) > datetime('now', '-1 day')`).Scan(&stats.Recent24h); err != nil {
		return stats, fmt.Errorf("failed to count recent alerts: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE datetime(created_at) > datetime('now', '-1 hour')`).Scan(&stats.Recent1h); err != nil {
		return stats, fmt.Errorf("failed to count recent alerts: %w", err)
	}

	return stats, nil
}

// ByTimerange returns alerts created within the last N hours, newest first.
// Non-positive hours default to 24.
func (d *Database) ByTimerange(ctx context.Context, hours int) ([]AlertDetail, error) {
	if err := d.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 24
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, timestamp, message, status, severity, metadata, created_at
		FROM alerts
		WHERE datetime(created_at) > datetime('now', ?)
		ORDER BY created_at DESC`,
		fmt.Sprintf("-%d hours", hours))
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts by timerange: %w", err)
	}
	defer rows.Close()

	var details []AlertDetail
	for rows.Next() {
		var detail AlertDetail
		var metadata sql.NullString
		if err := rows.Scan(
			&detail.ID,
			&detail.Timestamp,
			&detail.Message,
			&detail.Status,
			&detail.Severity,
			&metadata,
			&detail.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(metadata.String), &decoded); err == nil {
				detail.Metadata = decoded
			} else {
				detail.Metadata = metadata.String
			}
		}
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return details, nil
}

// Cleanup deletes alerts created strictly before now minus daysToKeep days.
// Rows exactly at the cutoff are retained. Returns the number of rows
// removed. Non-positive daysToKeep defaults to 30.
func (d *Database) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if err := d.ensureSchema(ctx); err != nil {
		return 0, err
	}
	if daysToKeep <= 0 {
		daysToKeep = 30
	}

	result, err := d.db.ExecContext(ctx, `
		DELETE FROM alerts
		WHERE datetime(created_at) < datetime('now', ?)`,
		fmt.Sprintf("-%d days", daysToKeep))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup alerts: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if removed > 0 {
		d.logger.Info("Cleaned up old alerts",
			zap.Int("days_to_keep", daysToKeep),
			zap.Int64("removed", removed))
	}
	return removed, nil
}

// Health reports the database file state and connection liveness.
type Health struct {
	FileExists     bool           `json:"db_file_exists"`
	Initialized    bool           `json:"db_initialized"`
	SizeMB         float64        `json:"db_size_mb"`
	ConnectionTest bool           `json:"connection_test"`
	TableCounts    map[string]int `json:"table_counts"`
}

// Health probes the database file and connection.
func (d *Database) Health(ctx context.Context) Health {
	d.mu.Lock()
	initialized := d.initialized
	d.mu.Unlock()

	h := Health{
		Initialized: initialized,
		TableCounts: make(map[string]int),
	}
	if info, err := os.Stat(d.path); err == nil {
		h.FileExists = true
		h.SizeMB = float64(info.Size()) / (1024 * 1024)
	}

	if err := d.ensureSchema(ctx); err != nil {
		d.logger.Error("Database health check failed", zap.Error(err))
		return h
	}
	h.Initialized = true

	var count int
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		d.logger.Error("Database health check failed", zap.Error(err))
		return h
	}
	h.TableCounts["alerts"] = count

	var probe int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&probe); err != nil {
		d.logger.Error("Database health check failed", zap.Error(err))
		return h
	}
	h.ConnectionTest = true
	return h
}

// Vacuum compacts the database file.
func (d *Database) Vacuum(ctx context.Context) error {
	if err := d.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	d.logger.Info("Database vacuum completed")
	return nil
}

// UpdateSystemStat upserts a named value in the system_stats table.
func (d *Database) UpdateSystemStat(ctx context.Context, name, value string) error {
	if err := d.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO system_stats (stat_name, stat_value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)`,
		name, value)
	if err != nil {
		return fmt.Errorf("failed to update system stat: %w", err)
	}
	return nil
}

// SystemStat is a named value with its last update time.
type SystemStat struct {
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// SystemStat returns a named stat, or nil when it has never been written.
func (d *Database) SystemStat(ctx context.Context, name string) (*SystemStat, error) {
	if err := d.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var stat SystemStat
	err := d.db.QueryRowContext(ctx, `
		SELECT stat_value, updated_at FROM system_stats
		WHERE stat_name = ?`, name).Scan(&stat.Value, &stat.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system stat: %w", err)
	}
	return &stat, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}
