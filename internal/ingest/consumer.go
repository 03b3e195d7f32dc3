package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/model"
)

const (
	detectionStreamName   = "DETECTIONS"
	detectionFrameSubject = "detection.frame"
)

// Tracker is the decision engine fed by incoming detection events.
type Tracker interface {
	Track(classID int, now time.Time) bool
}

// Consumer subscribes to the detection engine's per-frame events and feeds
// each class id into the tracker. Malformed payloads are logged and dropped.
type Consumer struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	tracker Tracker
	sub     *nats.Subscription
}

// NewConsumer creates a consumer over the given tracker.
func NewConsumer(logger *zap.Logger, js nats.JetStreamContext, tracker Tracker) *Consumer {
	return &Consumer{
		logger:  logger.Named("ingest"),
		js:      js,
		tracker: tracker,
	}
}

// Start ensures the detection stream exists and subscribes to frame events.
func (c *Consumer) Start() error {
	stream, err := c.js.StreamInfo(detectionStreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream == nil {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     detectionStreamName,
			Subjects: []string{"detection.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	sub, err := c.js.Subscribe(detectionFrameSubject, c.handleFrame)
	if err != nil {
		return fmt.Errorf("failed to subscribe to detection events: %w", err)
	}
	c.sub = sub

	c.logger.Info("Detection consumer started")
	return nil
}

// Stop unsubscribes from the detection stream.
func (c *Consumer) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

// handleFrame processes one detection event.
func (c *Consumer) handleFrame(msg *nats.Msg) {
	var event model.DetectionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logger.Error("Failed to unmarshal detection event", zap.Error(err))
		return
	}

	now := time.Now()
	for _, classID := range event.ClassIDs {
		if c.tracker.Track(classID, now) {
			c.logger.Info("Alert emitted from detection event",
				zap.String("event_id", event.ID),
				zap.String("source", event.Source),
				zap.Int("class_id", classID))
		}
	}
}

// PublishEvent publishes one detection event on behalf of the engine side.
// An event id is assigned when the caller leaves it empty.
func PublishEvent(js nats.JetStreamContext, event model.DetectionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal detection event: %w", err)
	}
	if _, err := js.Publish(detectionFrameSubject, data); err != nil {
		return fmt.Errorf("failed to publish detection event: %w", err)
	}
	return nil
}
