// Package maintenance runs the periodic housekeeping the pipeline needs to
// stay bounded: stale tracker windows, database retention and compaction.
// Jobs are host-scheduled here instead of firing from import-time or exit
// hooks.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Tracker is the stale-window cleanup surface of the violation tracker.
type Tracker interface {
	CleanupStale(now time.Time) (removedEntries, removedClasses int)
}

// AlertLog is the retention surface of the document-backed alert log.
type AlertLog interface {
	CleanupOld(daysToKeep int) int
}

// Database is the retention/compaction surface of the alert database.
type Database interface {
	Cleanup(ctx context.Context, daysToKeep int) (int64, error)
	Vacuum(ctx context.Context) error
}

// Config holds the cron expressions and retention horizon for the jobs.
// Zero-value fields fall back to the defaults below.
type Config struct {
	TrackerCleanupSpec string // default: every 10 minutes
	RetentionSpec      string // default: daily at 03:00
	VacuumSpec         string // default: weekly, Sunday 04:00
	DaysToKeep         int    // default: 30
}

// Scheduler owns the cron runner for all maintenance jobs.
type Scheduler struct {
	logger  *zap.Logger
	cron    *cron.Cron
	tracker Tracker
	log     AlertLog
	db      Database
	cfg     Config
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewScheduler creates the maintenance scheduler and registers its jobs.
func NewScheduler(logger *zap.Logger, tracker Tracker, log AlertLog, db Database, cfg Config) (*Scheduler, error) {
	if cfg.TrackerCleanupSpec == "" {
		cfg.TrackerCleanupSpec = "@every 10m"
	}
	if cfg.RetentionSpec == "" {
		cfg.RetentionSpec = "0 3 * * *"
	}
	if cfg.VacuumSpec == "" {
		cfg.VacuumSpec = "0 4 * * 0"
	}
	if cfg.DaysToKeep <= 0 {
		cfg.DaysToKeep = 30
	}

	clog := &cronLogger{logger: logger.Named("cron")}
	s := &Scheduler{
		logger:  logger.Named("maintenance"),
		cron:    cron.New(cron.WithChain(cron.Recover(clog))),
		tracker: tracker,
		log:     log,
		db:      db,
		cfg:     cfg,
	}

	if _, err := s.cron.AddFunc(cfg.TrackerCleanupSpec, s.cleanupTracker); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cfg.RetentionSpec, s.cleanupDatabase); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cfg.RetentionSpec, s.cleanupLogStore); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cfg.VacuumSpec, s.vacuumDatabase); err != nil {
		return nil, err
	}

	return s, nil
}

// Start starts the cron runner.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Maintenance scheduler started",
		zap.String("tracker_cleanup", s.cfg.TrackerCleanupSpec),
		zap.String("retention", s.cfg.RetentionSpec),
		zap.String("vacuum", s.cfg.VacuumSpec),
		zap.Int("days_to_keep", s.cfg.DaysToKeep))
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Maintenance scheduler stopped")
}

func (s *Scheduler) cleanupTracker() {
	entries, classes := s.tracker.CleanupStale(time.Now())
	if entries > 0 || classes > 0 {
		s.logger.Info("Tracker cleanup completed",
			zap.Int("removed_entries", entries),
			zap.Int("removed_classes", classes))
	}
}

func (s *Scheduler) cleanupDatabase() {
	removed, err := s.db.Cleanup(context.Background(), s.cfg.DaysToKeep)
	if err != nil {
		s.logger.Error("Database retention cleanup failed", zap.Error(err))
		return
	}
	s.logger.Info("Database retention cleanup completed",
		zap.Int64("removed", removed))
}

func (s *Scheduler) cleanupLogStore() {
	removed := s.log.CleanupOld(s.cfg.DaysToKeep)
	if removed > 0 {
		s.logger.Info("Log store retention cleanup completed",
			zap.Int("removed", removed))
	}
}

func (s *Scheduler) vacuumDatabase() {
	if err := s.db.Vacuum(context.Background()); err != nil {
		s.logger.Error("Database vacuum failed", zap.Error(err))
	}
}
