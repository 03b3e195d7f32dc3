package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTracker struct {
	mu    sync.Mutex
	calls int
}

func (s *stubTracker) CleanupStale(now time.Time) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 2, 1
}

type stubLog struct {
	mu       sync.Mutex
	cleanups []int
}

func (s *stubLog) CleanupOld(daysToKeep int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, daysToKeep)
	return 1
}

type stubDatabase struct {
	mu       sync.Mutex
	cleanups []int
	vacuums  int
	err      error
}

func (s *stubDatabase) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.cleanups = append(s.cleanups, daysToKeep)
	return 3, nil
}

func (s *stubDatabase) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vacuums++
	return s.err
}

func TestNewSchedulerDefaults(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	s, err := NewScheduler(logger, &stubTracker{}, &stubLog{}, &stubDatabase{}, Config{})
	require.NoError(t, err)
	require.Equal(t, "@every 10m", s.cfg.TrackerCleanupSpec)
	require.Equal(t, "0 3 * * *", s.cfg.RetentionSpec)
	require.Equal(t, "0 4 * * 0", s.cfg.VacuumSpec)
	require.Equal(t, 30, s.cfg.DaysToKeep)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	_, err := NewScheduler(logger, &stubTracker{}, &stubLog{}, &stubDatabase{}, Config{
		RetentionSpec: "not a cron spec",
	})
	require.Error(t, err)
}

func TestJobsInvokeTargets(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	tr := &stubTracker{}
	lg := &stubLog{}
	db := &stubDatabase{}
	s, err := NewScheduler(logger, tr, lg, db, Config{DaysToKeep: 14})
	require.NoError(t, err)

	s.cleanupTracker()
	require.Equal(t, 1, tr.calls)

	s.cleanupDatabase()
	require.Equal(t, []int{14}, db.cleanups)

	s.cleanupLogStore()
	require.Equal(t, []int{14}, lg.cleanups)

	s.vacuumDatabase()
	require.Equal(t, 1, db.vacuums)
}

func TestJobsSurviveDatabaseErrors(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	db := &stubDatabase{err: errors.New("locked")}
	s, err := NewScheduler(logger, &stubTracker{}, &stubLog{}, db, Config{})
	require.NoError(t, err)

	// Neither job panics or aborts on a failing database.
	s.cleanupDatabase()
	s.vacuumDatabase()
}

func TestStartStop(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	s, err := NewScheduler(logger, &stubTracker{}, &stubLog{}, &stubDatabase{}, Config{
		TrackerCleanupSpec: "@every 10ms",
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	tr := s.tracker.(*stubTracker)
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.calls > 0
	}, 5*time.Second, 10*time.Millisecond)
}
