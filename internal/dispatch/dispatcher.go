// Package dispatch fans emitted alerts out to the persistence sinks. The
// log store and the database are written independently, with no cross-store
// transaction: a failure in one leaves the other's write standing, and the
// two stores are allowed to diverge.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/model"
)

// Notifier publishes emitted alerts to interested subscribers. Optional.
type Notifier interface {
	Publish(alert *model.Alert) error
}

// LogStore is the document-backed alert log sink.
type LogStore interface {
	Add(message, status string, metadata map[string]interface{}) (*model.Alert, error)
	LastMessage() string
}

// Database is the relational alert sink.
type Database interface {
	Insert(ctx context.Context, message, status string, metadata map[string]interface{}) (int64, error)
}

// Dispatcher writes each alert to both stores, best effort. Store failures
// are logged and swallowed so persistence latency or breakage never stops
// the detection pipeline.
type Dispatcher struct {
	logger   *zap.Logger
	log      LogStore
	db       Database
	notifier Notifier
}

// NewDispatcher creates a dispatcher over the two stores. notifier may be
// nil.
func NewDispatcher(logger *zap.Logger, log LogStore, db Database, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("dispatch"),
		log:      log,
		db:       db,
		notifier: notifier,
	}
}

// Dispatch validates and persists one alert through each sink in turn. Each
// sink performs its own validation; the stores are not required to agree
// bit for bit. Returns the log store's alert, or nil when it rejected the
// input.
func (d *Dispatcher) Dispatch(message, status string, metadata map[string]interface{}) *model.Alert {
	alert, err := d.log.Add(message, status, metadata)
	if err != nil {
		d.logger.Error("Log store rejected alert",
			zap.String("message", message),
			zap.Error(err))
	}

	if _, err := d.db.Insert(context.Background(), message, status, metadata); err != nil {
		d.logger.Error("Database insert failed",
			zap.String("message", message),
			zap.Error(err))
	}

	if d.notifier != nil && alert != nil {
		if err := d.notifier.Publish(alert); err != nil {
			d.logger.Error("Alert notification failed",
				zap.String("id", alert.ID),
				zap.Error(err))
		}
	}

	return alert
}

// LastMessage returns the most recently logged alert's message, feeding the
// tracker's duplicate-text gate.
func (d *Dispatcher) LastMessage() string {
	return d.log.LastMessage()
}
