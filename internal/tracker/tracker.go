package tracker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/model"
)

// Dispatcher delivers emitted alerts to the persistence sinks. Dispatch is
// always invoked outside the tracker lock so store latency never serializes
// unrelated classes' decisions.
type Dispatcher interface {
	Dispatch(message, status string, metadata map[string]interface{}) *model.Alert
	LastMessage() string
}

// Defaults applied when the tracker is constructed without options.
const (
	DefaultThreshold = 3
	DefaultWindow    = 10 * time.Second
	DefaultCooldown  = 30 * time.Second
)

// windowCapacity bounds each per-class window regardless of threshold churn.
const windowCapacity = 20

// Config holds the tracking thresholds in effect.
type Config struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

// Option adjusts a single tracking threshold. Values are clamped to their
// legal range when applied.
type Option func(*Config)

// WithThreshold sets the number of in-window detections required to emit.
func WithThreshold(n int) Option {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.Threshold = n
	}
}

// WithWindow sets the rolling detection window.
func WithWindow(d time.Duration) Option {
	return func(c *Config) {
		if d < time.Second {
			d = time.Second
		}
		c.Window = d
	}
}

// WithCooldown sets the minimum gap between alerts for the same class.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) {
		if d < 0 {
			d = 0
		}
		c.Cooldown = d
	}
}

// Tracker turns the raw per-frame detection stream into deduplicated,
// rate-limited alerts. One mutex guards all per-class state.
type Tracker struct {
	logger     *zap.Logger
	dispatcher Dispatcher

	mu        sync.Mutex
	cfg       Config
	windows   map[int][]time.Time
	lastAlert map[int]time.Time
}

// NewTracker creates a tracker wired to the given dispatcher.
func NewTracker(logger *zap.Logger, dispatcher Dispatcher, opts ...Option) *Tracker {
	cfg := Config{
		Threshold: DefaultThreshold,
		Window:    DefaultWindow,
		Cooldown:  DefaultCooldown,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Tracker{
		logger:     logger.Named("tracker"),
		dispatcher: dispatcher,
		cfg:        cfg,
		windows:    make(map[int][]time.Time),
		lastAlert:  make(map[int]time.Time),
	}
}

// Configure atomically replaces the thresholds for all subsequent decisions.
// Existing window contents are not reinterpreted.
func (t *Tracker) Configure(opts ...Option) {
	t.mu.Lock()
	for _, opt := range opts {
		opt(&t.cfg)
	}
	cfg := t.cfg
	t.mu.Unlock()

	t.logger.Info("Thresholds updated",
		zap.Int("threshold", cfg.Threshold),
		zap.Duration("window", cfg.Window),
		zap.Duration("cooldown", cfg.Cooldown))
}

// Config returns a snapshot of the current thresholds.
func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Track records one detection of classID at the given time and reports
// whether an alert was emitted. Unregistered class ids are ignored without
// touching any state.
func (t *Tracker) Track(classID int, now time.Time) bool {
	name, ok := model.ClassName(classID)
	if !ok {
		return false
	}

	message, count, emit := t.observe(classID, name, now)
	if !emit {
		return false
	}

	// Store I/O happens here, after the decision lock is released.
	t.dispatcher.Dispatch(message, string(model.StatusViolation), map[string]interface{}{
		"class_id":        classID,
		"detection_count": count,
		"time_window":     t.Config().Window.Seconds(),
	})

	t.logger.Warn("VIOLATION ALERT", zap.String("message", message))
	return true
}

// observe mutates the class window under the lock and decides whether to
// emit. Both gates must pass: the cooldown for this class has elapsed AND
// the candidate message differs from the most recently logged alert. The
// duplicate-text gate intentionally suppresses refires with identical text
// even when the cooldown alone would allow them.
func (t *Tracker) observe(classID int, name string, now time.Time) (message string, count int, emit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := append(t.windows[classID], now)
	if len(w) > windowCapacity {
		w = w[len(w)-windowCapacity:]
	}
	w = prune(w, now, t.cfg.Window)
	t.windows[classID] = w

	if len(w) < t.cfg.Threshold {
		return "", 0, false
	}
	if now.Sub(t.lastAlert[classID]) <= t.cfg.Cooldown {
		return "", 0, false
	}

	message = fmt.Sprintf("PPE Violation Detected: %s", name)
	if t.dispatcher.LastMessage() == message {
		return "", 0, false
	}

	t.lastAlert[classID] = now
	return message, len(w), true
}

// ClassStats describes one class with recent in-window detections.
type ClassStats struct {
	Name                 string  `json:"name"`
	RecentDetections     int     `json:"recent_detections"`
	Threshold            int     `json:"threshold"`
	LastDetection        float64 `json:"last_detection"`
	DetectionsUntilAlert int     `json:"detections_until_alert"`
}

// ConfigSnapshot is the JSON-friendly view of the active thresholds.
type ConfigSnapshot struct {
	AlertThreshold  int     `json:"alert_threshold"`
	WindowSeconds   float64 `json:"window_seconds"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
}

// Stats is the read-only view of the tracker state.
type Stats struct {
	ActiveViolations    map[string]ClassStats `json:"active_violations"`
	Config              ConfigSnapshot        `json:"config"`
	TotalTrackedClasses int                   `json:"total_tracked_classes"`
}

// Stats reports per-class detection progress for every class whose pruned
// window is non-empty, plus the current configuration.
func (t *Tracker) Stats(now time.Time) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := make(map[string]ClassStats)
	for classID, w := range t.windows {
		w = prune(w, now, t.cfg.Window)
		t.windows[classID] = w
		if len(w) == 0 {
			continue
		}

		until := t.cfg.Threshold - len(w)
		if until < 0 {
			until = 0
		}
		active[model.ClassNameOrDefault(classID)] = ClassStats{
			Name:                 model.ClassNameOrDefault(classID),
			RecentDetections:     len(w),
			Threshold:            t.cfg.Threshold,
			LastDetection:        epoch(w[len(w)-1]),
			DetectionsUntilAlert: until,
		}
	}

	return Stats{
		ActiveViolations: active,
		Config: ConfigSnapshot{
			AlertThreshold:  t.cfg.Threshold,
			WindowSeconds:   t.cfg.Window.Seconds(),
			CooldownSeconds: t.cfg.Cooldown.Seconds(),
		},
		TotalTrackedClasses: len(t.windows),
	}
}

// Active describes one class currently inside its detection window.
type Active struct {
	ClassID        int     `json:"class_id"`
	Name           string  `json:"name"`
	DetectionCount int     `json:"detection_count"`
	Progress       float64 `json:"progress"`
	LastSeen       float64 `json:"last_seen"`
}

// ActiveViolations lists the classes with at least one in-window detection
// and their progress toward the alert threshold.
func (t *Tracker) ActiveViolations(now time.Time) []Active {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Active
	for classID, w := range t.windows {
		w = prune(w, now, t.cfg.Window)
		t.windows[classID] = w
		if len(w) == 0 {
			continue
		}
		out = append(out, Active{
			ClassID:        classID,
			Name:           model.ClassNameOrDefault(classID),
			DetectionCount: len(w),
			Progress:       float64(len(w)) / float64(t.cfg.Threshold),
			LastSeen:       epoch(w[len(w)-1]),
		})
	}
	return out
}

// IsActive reports whether classID has any detection inside its window.
func (t *Tracker) IsActive(classID int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := prune(t.windows[classID], now, t.cfg.Window)
	t.windows[classID] = w
	return len(w) > 0
}

// Reset clears all windows and cooldown timestamps.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.windows = make(map[int][]time.Time)
	t.lastAlert = make(map[int]time.Time)
	t.mu.Unlock()

	t.logger.Info("Violation tracking data reset")
}

// CleanupStale prunes entries older than twice the window and drops classes
// whose windows become empty, bounding map growth under class churn. Entries
// within 2x the window are kept as short-term history.
func (t *Tracker) CleanupStale(now time.Time) (removedEntries, removedClasses int) {
	t.mu.Lock()
	for classID, w := range t.windows {
		kept := prune(w, now, 2*t.cfg.Window)
		removedEntries += len(w) - len(kept)
		if len(kept) == 0 {
			delete(t.windows, classID)
			delete(t.lastAlert, classID)
			removedClasses++
			continue
		}
		t.windows[classID] = kept
	}
	t.mu.Unlock()

	if removedEntries > 0 || removedClasses > 0 {
		t.logger.Info("Cleaned up stale violation data",
			zap.Int("removed_entries", removedEntries),
			zap.Int("removed_classes", removedClasses))
	}
	return removedEntries, removedClasses
}

// prune drops entries whose age relative to now exceeds window. Windows are
// time-ordered, so a single scan from the front suffices.
func prune(w []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(w) && now.Sub(w[i]) > window {
		i++
	}
	if i == 0 {
		return w
	}
	return append(w[:0:0], w[i:]...)
}

func epoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
