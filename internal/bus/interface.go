package bus

import (
	"context"
	"io"
	"log"
)

// AlertMessage is one alert published to the alerts stream. Downstream
// notification and UI consumers tail the stream; this job only appends.
type AlertMessage struct {
	AlertID        string `json:"alert_id"`
	ItemID         string `json:"item_id"`
	OrganizationID string `json:"organization_id"`
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	IndicatorType  string `json:"indicator_type"`
	IndicatorValue string `json:"indicator_value"`
	Timestamp      int64  `json:"timestamp"`
}

// Sink defines the interface for alert sink implementations
type Sink interface {
	// PublishAlert appends an alert to the alerts stream
	PublishAlert(ctx context.Context, alert AlertMessage) error

	// TrimStream caps the alerts stream at maxLen entries
	TrimStream(ctx context.Context, maxLen int64) error

	// GetStats returns basic statistics about the sink
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// HealthCheck performs a health check on the sink connection
	HealthCheck(ctx context.Context) error

	// Close closes the sink connection
	Close() error
}

// NewSink creates a new sink instance based on the Redis URL.
// If redisURL is empty or unreachable, returns a NullSink.
func NewSink(redisURL string, logger *log.Logger) Sink {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if redisURL == "" {
		return NewNullSink(logger)
	}

	if redisSink, err := NewRedisSink(redisURL, logger); err == nil {
		return redisSink
	}

	// Fall back to null sink if Redis fails
	return NewNullSink(logger)
}
