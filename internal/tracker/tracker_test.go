package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/model"
)

// stubDispatcher records dispatched alerts and mimics the log store's
// last-message behavior.
type stubDispatcher struct {
	mu       sync.Mutex
	messages []string
}

func (d *stubDispatcher) Dispatch(message, status string, metadata map[string]interface{}) *model.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, message)
	alert, _, _ := model.NewAlert(message, status, metadata, time.Now())
	return alert
}

func (d *stubDispatcher) LastMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.messages) == 0 {
		return ""
	}
	return d.messages[len(d.messages)-1]
}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

func newTestTracker(t *testing.T, opts ...Option) (*Tracker, *stubDispatcher) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	d := &stubDispatcher{}
	return NewTracker(logger, d, opts...), d
}

func TestTrackUnregisteredClass(t *testing.T) {
	tr, d := newTestTracker(t)

	require.False(t, tr.Track(999, time.Now()))
	require.Equal(t, 0, d.count())
	require.Equal(t, 0, tr.Stats(time.Now()).TotalTrackedClasses)
}

func TestTrackThresholdAndCooldown(t *testing.T) {
	tr, d := newTestTracker(t,
		WithThreshold(3),
		WithWindow(10*time.Second),
		WithCooldown(30*time.Second))

	base := time.Now()

	require.False(t, tr.Track(5, base))
	require.False(t, tr.Track(5, base.Add(1*time.Second)))
	require.True(t, tr.Track(5, base.Add(2*time.Second)))
	require.Equal(t, 1, d.count())

	// Cooldown active: threshold is met again but no emission.
	require.False(t, tr.Track(5, base.Add(3*time.Second)))
	require.Equal(t, 1, d.count())

	// After 31s the old entries aged out of the 10s window; the single
	// fresh detection is below threshold.
	require.False(t, tr.Track(5, base.Add(31*time.Second)))
	require.Equal(t, 1, d.count())
}

func TestTrackDuplicateMessageSuppressed(t *testing.T) {
	// Zero cooldown: only the duplicate-text gate stands between refires.
	tr, d := newTestTracker(t,
		WithThreshold(2),
		WithWindow(10*time.Second),
		WithCooldown(0))

	base := time.Now()
	require.False(t, tr.Track(0, base))
	require.True(t, tr.Track(0, base.Add(time.Second)))
	require.Equal(t, 1, d.count())

	// Same class produces identical text, so the refire is suppressed even
	// though the cooldown would allow it.
	require.False(t, tr.Track(0, base.Add(2*time.Second)))
	require.Equal(t, 1, d.count())

	// A different class produces different text and fires.
	require.False(t, tr.Track(1, base.Add(3*time.Second)))
	require.True(t, tr.Track(1, base.Add(4*time.Second)))
	require.Equal(t, 2, d.count())
}

func TestTrackWindowPruning(t *testing.T) {
	tr, d := newTestTracker(t,
		WithThreshold(3),
		WithWindow(10*time.Second),
		WithCooldown(0))

	base := time.Now()
	// Two detections that will age out before the third arrives.
	require.False(t, tr.Track(2, base))
	require.False(t, tr.Track(2, base.Add(time.Second)))
	require.False(t, tr.Track(2, base.Add(15*time.Second)))
	require.Equal(t, 0, d.count())

	stats := tr.Stats(base.Add(15 * time.Second))
	cs, ok := stats.ActiveViolations["Safety vest missing"]
	require.True(t, ok)
	require.Equal(t, 1, cs.RecentDetections)
	require.Equal(t, 2, cs.DetectionsUntilAlert)
}

func TestConfigureClamps(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.Configure(WithThreshold(0), WithWindow(0), WithCooldown(-5*time.Second))
	cfg := tr.Config()
	require.Equal(t, 1, cfg.Threshold)
	require.Equal(t, time.Second, cfg.Window)
	require.Equal(t, time.Duration(0), cfg.Cooldown)
}

func TestConfigurePartialUpdate(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.Configure(WithThreshold(7))
	cfg := tr.Config()
	require.Equal(t, 7, cfg.Threshold)
	require.Equal(t, DefaultWindow, cfg.Window)
	require.Equal(t, DefaultCooldown, cfg.Cooldown)
}

func TestStats(t *testing.T) {
	tr, _ := newTestTracker(t, WithThreshold(5))

	now := time.Now()
	tr.Track(0, now)
	tr.Track(0, now.Add(time.Second))
	tr.Track(3, now.Add(time.Second))

	stats := tr.Stats(now.Add(2 * time.Second))
	require.Equal(t, 2, stats.TotalTrackedClasses)
	require.Equal(t, 5, stats.Config.AlertThreshold)

	hardhat := stats.ActiveViolations["Hardhat missing"]
	require.Equal(t, 2, hardhat.RecentDetections)
	require.Equal(t, 3, hardhat.DetectionsUntilAlert)
}

func TestActiveViolationsAndIsActive(t *testing.T) {
	tr, _ := newTestTracker(t, WithThreshold(4), WithWindow(10*time.Second))

	now := time.Now()
	tr.Track(6, now)
	tr.Track(6, now.Add(time.Second))

	active := tr.ActiveViolations(now.Add(2 * time.Second))
	require.Len(t, active, 1)
	require.Equal(t, 6, active[0].ClassID)
	require.Equal(t, "Fall detected", active[0].Name)
	require.Equal(t, 2, active[0].DetectionCount)
	require.InDelta(t, 0.5, active[0].Progress, 1e-9)

	require.True(t, tr.IsActive(6, now.Add(2*time.Second)))
	require.False(t, tr.IsActive(6, now.Add(time.Minute)))
	require.False(t, tr.IsActive(7, now))
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker(t)

	now := time.Now()
	tr.Track(0, now)
	tr.Track(1, now)
	require.Equal(t, 2, tr.Stats(now).TotalTrackedClasses)

	tr.Reset()
	require.Equal(t, 0, tr.Stats(now).TotalTrackedClasses)
}

func TestCleanupStale(t *testing.T) {
	tr, _ := newTestTracker(t, WithWindow(10*time.Second))

	base := time.Now()
	tr.Track(0, base)
	tr.Track(0, base.Add(time.Second))
	tr.Track(1, base.Add(18*time.Second))

	// Class 0's entries are older than 2x the window; class 1's entry is
	// within it.
	entries, classes := tr.CleanupStale(base.Add(25 * time.Second))
	require.Equal(t, 2, entries)
	require.Equal(t, 1, classes)

	stats := tr.Stats(base.Add(25 * time.Second))
	require.Equal(t, 1, stats.TotalTrackedClasses)
}

func TestWindowCapacityBounded(t *testing.T) {
	tr, d := newTestTracker(t,
		WithThreshold(100), // never emit
		WithWindow(time.Hour))

	now := time.Now()
	for i := 0; i < 200; i++ {
		tr.Track(0, now.Add(time.Duration(i)*time.Millisecond))
	}
	require.Equal(t, 0, d.count())

	stats := tr.Stats(now.Add(time.Second))
	require.Equal(t, 20, stats.ActiveViolations["Hardhat missing"].RecentDetections)
}

func TestTrackConcurrent(t *testing.T) {
	tr, _ := newTestTracker(t, WithThreshold(3), WithCooldown(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Track(j%4, time.Now())
			}
		}()
	}
	wg.Wait()

	stats := tr.Stats(time.Now())
	require.Equal(t, 4, stats.TotalTrackedClasses)
}
