package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/model"
)

type stubLog struct {
	alerts []*model.Alert
	err    error
}

func (s *stubLog) Add(message, status string, metadata map[string]interface{}) (*model.Alert, error) {
	if s.err != nil {
		return nil, s.err
	}
	alert, _, err := model.NewAlert(message, status, metadata, time.Now())
	if err != nil {
		return nil, err
	}
	s.alerts = append(s.alerts, alert)
	return alert, nil
}

func (s *stubLog) LastMessage() string {
	if len(s.alerts) == 0 {
		return ""
	}
	return s.alerts[len(s.alerts)-1].Message
}

type stubDB struct {
	inserted []string
	err      error
}

func (s *stubDB) Insert(ctx context.Context, message, status string, metadata map[string]interface{}) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.inserted = append(s.inserted, message)
	return int64(len(s.inserted)), nil
}

type stubNotifier struct {
	published []*model.Alert
	err       error
}

func (s *stubNotifier) Publish(alert *model.Alert) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, alert)
	return nil
}

func TestDispatchWritesBothStores(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	log := &stubLog{}
	db := &stubDB{}
	n := &stubNotifier{}
	d := NewDispatcher(logger, log, db, n)

	alert := d.Dispatch("Hardhat missing", "violation", map[string]interface{}{"class_id": 0})
	require.NotNil(t, alert)
	require.Len(t, log.alerts, 1)
	require.Len(t, db.inserted, 1)
	require.Len(t, n.published, 1)
	require.Equal(t, alert, n.published[0])
}

func TestDispatchContinuesWhenDatabaseFails(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	log := &stubLog{}
	db := &stubDB{err: errors.New("disk full")}
	d := NewDispatcher(logger, log, db, nil)

	alert := d.Dispatch("Hardhat missing", "violation", nil)
	require.NotNil(t, alert)
	require.Len(t, log.alerts, 1)
}

func TestDispatchContinuesWhenLogStoreFails(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	log := &stubLog{err: errors.New("read-only filesystem")}
	db := &stubDB{}
	d := NewDispatcher(logger, log, db, nil)

	alert := d.Dispatch("Hardhat missing", "violation", nil)
	require.Nil(t, alert)
	// The database write is independent of the log store failure.
	require.Len(t, db.inserted, 1)
}

func TestDispatchNotifierFailureIgnored(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	log := &stubLog{}
	db := &stubDB{}
	n := &stubNotifier{err: errors.New("nats down")}
	d := NewDispatcher(logger, log, db, n)

	alert := d.Dispatch("Hardhat missing", "violation", nil)
	require.NotNil(t, alert)
	require.Len(t, log.alerts, 1)
	require.Len(t, db.inserted, 1)
}

func TestLastMessage(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	log := &stubLog{}
	d := NewDispatcher(logger, log, &stubDB{}, nil)

	require.Empty(t, d.LastMessage())
	d.Dispatch("first", "info", nil)
	d.Dispatch("second", "info", nil)
	require.Equal(t, "second", d.LastMessage())
}
