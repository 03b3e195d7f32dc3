package notify

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/model"
)

const (
	alertStreamName    = "ALERTS"
	alertSubjectPrefix = "alert."
)

// Publisher fans emitted alerts out to NATS subscribers (dashboards, pager
// integrations). Delivery is best effort: the durable record lives in the
// stores, not the stream.
type Publisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewPublisher creates a publisher and ensures the alert stream exists.
func NewPublisher(logger *zap.Logger, js nats.JetStreamContext) (*Publisher, error) {
	stream, err := js.StreamInfo(alertStreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream == nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     alertStreamName,
			Subjects: []string{alertSubjectPrefix + "*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &Publisher{
		logger: logger.Named("notify"),
		js:     js,
	}, nil
}

// Publish sends one alert to alert.<status>.
func (p *Publisher) Publish(alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if _, err := p.js.Publish(alertSubjectPrefix+string(alert.Status), data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	p.logger.Info("Alert published",
		zap.String("id", alert.ID),
		zap.String("status", string(alert.Status)),
		zap.Int("severity", alert.Severity))
	return nil
}
