package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/model"
)

// MaxLogEntries caps the in-memory alert log; the oldest entries are
// evicted first once the cap is reached.
const MaxLogEntries = 1000

// LogStore is the bounded in-memory alert log mirrored to a JSON document.
// The document is rewritten wholesale on every mutation via atomic replace,
// so readers never observe a partially written file.
type LogStore struct {
	logger *zap.Logger
	path   string

	mu     sync.Mutex
	alerts []*model.Alert
}

// NewLogStore creates a log store backed by the document at path and loads
// any previously persisted alerts. A corrupted document is quarantined to a
// backup path and the store starts empty.
func NewLogStore(logger *zap.Logger, path string) *LogStore {
	s := &LogStore{
		logger: logger.Named("logstore"),
		path:   path,
	}
	s.alerts = s.load()
	s.logger.Info("Loaded existing alerts", zap.Int("count", len(s.alerts)))
	return s
}

// Add validates and appends a new alert, trims the log to MaxLogEntries and
// persists the full document. Validation failures are returned; persistence
// failures are logged and the in-memory append stands.
func (s *LogStore) Add(message, status string, metadata map[string]interface{}) (*model.Alert, error) {
	alert, statusOK, err := model.NewAlert(message, status, metadata, time.Now())
	if err != nil {
		s.logger.Error("Rejected alert", zap.Error(err))
		return nil, err
	}
	if !statusOK {
		s.logger.Warn("Unknown alert status, using violation",
			zap.String("status", status))
	}

	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	if len(s.alerts) > MaxLogEntries {
		s.alerts = s.alerts[len(s.alerts)-MaxLogEntries:]
	}
	if err := s.persist(s.alerts); err != nil {
		s.logger.Error("Failed to save alerts", zap.Error(err))
	}
	s.mu.Unlock()

	switch {
	case alert.Severity >= 3:
		s.logger.Error("HIGH SEVERITY ALERT", zap.String("message", alert.Message))
	case alert.Severity >= 2:
		s.logger.Warn("MEDIUM SEVERITY ALERT", zap.String("message", alert.Message))
	default:
		s.logger.Info("ALERT", zap.String("message", alert.Message))
	}

	return alert, nil
}

// persist serializes alerts to a temporary file and atomically replaces the
// canonical document. On failure the partial temp file is removed and the
// previously persisted document is left untouched. Callers hold s.mu.
func (s *LogStore) persist(alerts []*model.Alert) error {
	data, err := json.MarshalIndent(alerts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp alerts file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace alerts file: %w", err)
	}
	return nil
}

// load reads the document at s.path. Missing or blank files yield an empty
// log. Malformed JSON quarantines the file to a backup path and yields an
// empty log. Entries missing string time/message/status fields are dropped;
// at most the newest MaxLogEntries valid entries are returned.
func (s *LogStore) load() []*model.Alert {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("Failed to read alerts file", zap.Error(err))
		}
		return nil
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		backup := s.path + ".backup"
		s.logger.Error("Corrupted alerts file", zap.Error(err))
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			s.logger.Error("Failed to quarantine corrupted alerts file",
				zap.Error(renameErr))
		} else {
			s.logger.Info("Corrupted alerts file quarantined",
				zap.String("backup", backup))
		}
		return nil
	}

	valid := make([]*model.Alert, 0, len(raw))
	for _, entry := range raw {
		alert, ok := decodeEntry(entry)
		if !ok {
			s.logger.Warn("Skipping invalid alert entry")
			continue
		}
		valid = append(valid, alert)
	}
	if len(valid) > MaxLogEntries {
		valid = valid[len(valid)-MaxLogEntries:]
	}
	return valid
}

// decodeEntry rebuilds an alert from a loosely typed document entry. The
// time, message and status fields must all be present as strings.
func decodeEntry(entry map[string]interface{}) (*model.Alert, bool) {
	timeStr, ok := entry["time"].(string)
	if !ok {
		return nil, false
	}
	message, ok := entry["message"].(string)
	if !ok {
		return nil, false
	}
	statusStr, ok := entry["status"].(string)
	if !ok {
		return nil, false
	}

	status, _ := model.ParseStatus(statusStr)
	alert := &model.Alert{
		Time:     timeStr,
		Message:  message,
		Status:   status,
		Severity: status.Severity(),
	}
	if id, ok := entry["id"].(string); ok {
		alert.ID = id
	}
	if ts, ok := entry["timestamp"].(float64); ok {
		alert.Timestamp = ts
	}
	if sev, ok := entry["severity"].(float64); ok {
		alert.Severity = int(sev)
	}
	if md, ok := entry["metadata"].(map[string]interface{}); ok {
		alert.Metadata = md
	}
	return alert, true
}

// ByStatus returns alerts whose status matches, case-insensitively. An empty
// status matches everything. A positive limit keeps only the newest entries.
func (s *LogStore) ByStatus(status string, limit int) []*model.Alert {
	want := strings.ToLower(status)

	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]*model.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if want == "" || string(a.Status) == want {
			filtered = append(filtered, a)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// Recent returns alerts from the last N hours. Non-positive hours default
// to 24.
func (s *LogStore) Recent(hours float64) []*model.Alert {
	if hours <= 0 {
		hours = 24
	}
	cutoff := float64(time.Now().UnixMicro())/1e6 - hours*3600

	s.mu.Lock()
	defer s.mu.Unlock()

	recent := make([]*model.Alert, 0)
	for _, a := range s.alerts {
		if a.Timestamp >= cutoff {
			recent = append(recent, a)
		}
	}
	return recent
}

// LogStats aggregates the in-memory alert log.
type LogStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
	Recent24h  int            `json:"recent_24h"`
}

// Stats aggregates counts by status, severity bucket and the last 24 hours.
func (s *LogStore) Stats() LogStats {
	stats := LogStats{
		ByStatus:   make(map[string]int),
		BySeverity: map[string]int{"none": 0, "low": 0, "medium": 0, "high": 0},
	}
	cutoff := float64(time.Now().UnixMicro())/1e6 - 86400

	s.mu.Lock()
	defer s.mu.Unlock()

	stats.Total = len(s.alerts)
	for _, a := range s.alerts {
		stats.ByStatus[string(a.Status)]++
		stats.BySeverity[model.SeverityName(a.Severity)]++
		if a.Timestamp >= cutoff {
			stats.Recent24h++
		}
	}
	return stats
}

// Clear empties the log and persists the empty document.
func (s *LogStore) Clear() bool {
	s.mu.Lock()
	s.alerts = nil
	err := s.persist([]*model.Alert{})
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Failed to persist cleared alerts", zap.Error(err))
		return false
	}
	s.logger.Info("All alerts cleared")
	return true
}

// Len returns the number of alerts currently held.
func (s *LogStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// Last returns the most recent alert, or nil when the log is empty.
func (s *LogStore) Last() *model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.alerts) == 0 {
		return nil
	}
	return s.alerts[len(s.alerts)-1]
}

// LastMessage returns the most recent alert's message, or "" when empty.
func (s *LogStore) LastMessage() string {
	if a := s.Last(); a != nil {
		return a.Message
	}
	return ""
}

// LogHealth reports the state of the log store and its backing document.
type LogHealth struct {
	FileExists bool         `json:"alerts_file_exists"`
	Count      int          `json:"alerts_count"`
	LastAlert  *model.Alert `json:"last_alert,omitempty"`
}

// Health checks the backing document and current log size.
func (s *LogStore) Health() LogHealth {
	_, statErr := os.Stat(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()

	h := LogHealth{
		FileExists: statErr == nil,
		Count:      len(s.alerts),
	}
	if len(s.alerts) > 0 {
		h.LastAlert = s.alerts[len(s.alerts)-1]
	}
	return h
}

// CleanupOld removes alerts older than daysToKeep days and persists when
// anything was removed. Returns the number of alerts removed.
func (s *LogStore) CleanupOld(daysToKeep int) int {
	if daysToKeep <= 0 {
		daysToKeep = 30
	}
	cutoff := float64(time.Now().UnixMicro())/1e6 - float64(daysToKeep)*86400

	s.mu.Lock()
	kept := s.alerts[:0]
	for _, a := range s.alerts {
		// Entries loaded from legacy documents may carry no timestamp;
		// their age is unknown, so they are retained.
		if a.Timestamp == 0 || a.Timestamp >= cutoff {
			kept = append(kept, a)
		}
	}
	removed := len(s.alerts) - len(kept)
	s.alerts = kept
	if removed > 0 {
		if err := s.persist(s.alerts); err != nil {
			s.logger.Error("Failed to save alerts after cleanup", zap.Error(err))
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("Cleaned up old alerts", zap.Int("removed", removed))
	}
	return removed
}
