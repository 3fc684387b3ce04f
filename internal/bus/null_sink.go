package bus

import (
	"context"
	"log"
)

// NullSink is a no-op implementation of the sink interface for when Redis is disabled
type NullSink struct {
	logger *log.Logger
}

// NewNullSink creates a new null sink instance
func NewNullSink(logger *log.Logger) *NullSink {
	if logger == nil {
		logger = log.New(log.Writer(), "[NullSink] ", log.LstdFlags)
	}

	return &NullSink{
		logger: logger,
	}
}

// Close is a no-op for null sink
func (ns *NullSink) Close() error {
	return nil
}

// PublishAlert logs the alert but doesn't actually publish it
func (ns *NullSink) PublishAlert(ctx context.Context, alert AlertMessage) error {
	ns.logger.Printf("Would publish alert %s (%s) for %s (Redis disabled)",
		alert.AlertID, alert.Severity, alert.IndicatorValue)
	return nil
}

// TrimStream is a no-op for null sink
func (ns *NullSink) TrimStream(ctx context.Context, maxLen int64) error {
	return nil
}

// GetStats returns empty stats for null sink
func (ns *NullSink) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null sink
func (ns *NullSink) HealthCheck(ctx context.Context) error {
	return nil
}
