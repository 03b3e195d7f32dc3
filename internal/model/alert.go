package model

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// MaxMessageLength is the longest alert message persisted by either store.
// Longer messages are truncated, not rejected.
const MaxMessageLength = 500

// ErrEmptyMessage is returned when an alert is built without a message.
var ErrEmptyMessage = errors.New("alert message is required")

// Status represents the normalized status of an alert
type Status string

const (
	StatusViolation Status = "violation"
	StatusWarning   Status = "warning"
	StatusInfo      Status = "info"
	StatusSafe      Status = "safe"
	StatusDanger    Status = "danger"
	StatusCritical  Status = "critical"
	StatusCaution   Status = "caution"
)

// ParseStatus normalizes a raw status string against the closed status set.
// The input is lower-cased before matching. Unrecognized values fall back to
// StatusViolation with ok=false so the caller can log the substitution.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusViolation, StatusWarning, StatusInfo, StatusSafe,
		StatusDanger, StatusCritical, StatusCaution:
		return s, true
	default:
		return StatusViolation, false
	}
}

// Severity returns the numeric severity for a status: 3 for
// violation/danger/critical, 2 for warning/caution, 1 for info, 0 for safe.
// Anything else maps to 1.
func (s Status) Severity() int {
	switch Status(strings.ToLower(string(s))) {
	case StatusViolation, StatusDanger, StatusCritical:
		return 3
	case StatusWarning, StatusCaution:
		return 2
	case StatusInfo:
		return 1
	case StatusSafe:
		return 0
	default:
		return 1
	}
}

// SeverityName maps a numeric severity to its reporting bucket.
func SeverityName(severity int) string {
	switch severity {
	case 0:
		return "none"
	case 2:
		return "medium"
	case 3:
		return "high"
	default:
		return "low"
	}
}

// TimeLayout is the wall-clock format stored in the "time" field of every
// alert and in the database timestamp column.
const TimeLayout = "2006-01-02 15:04:05"

// Alert represents a single safety alert event
type Alert struct {
	ID        string                 `json:"id"`
	Time      string                 `json:"time"`
	Timestamp float64                `json:"timestamp"`
	Message   string                 `json:"message"`
	Status    Status                 `json:"status"`
	Severity  int                    `json:"severity"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewAlert builds a validated alert at the given creation time. The message
// is trimmed and truncated to MaxMessageLength; a blank message is rejected.
// statusOK reports whether the supplied status was recognized as-is or fell
// back to StatusViolation.
func NewAlert(message, rawStatus string, metadata map[string]interface{}, now time.Time) (alert *Alert, statusOK bool, err error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, false, ErrEmptyMessage
	}
	if r := []rune(message); len(r) > MaxMessageLength {
		message = string(r[:MaxMessageLength])
	}

	status, ok := ParseStatus(rawStatus)
	epoch := float64(now.UnixMicro()) / 1e6

	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return &Alert{
		ID:        "alert_" + strconv.FormatFloat(epoch, 'f', 6, 64),
		Time:      now.Format(TimeLayout),
		Timestamp: epoch,
		Message:   message,
		Status:    status,
		Severity:  status.Severity(),
		Metadata:  metadata,
	}, ok, nil
}
