package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const alertsStream = "alerts"

// RedisSink publishes alerts to a Redis Stream so notification and UI layers
// can consume them with their own consumer groups.
type RedisSink struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisSink creates a new Redis sink instance
func NewRedisSink(redisURL string, logger *log.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = log.New(log.Writer(), "[RedisSink] ", log.LstdFlags)
	}

	return &RedisSink{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (rs *RedisSink) Close() error {
	return rs.client.Close()
}

// PublishAlert appends an alert to the alerts stream
func (rs *RedisSink) PublishAlert(ctx context.Context, alert AlertMessage) error {
	fields := map[string]interface{}{
		"alert_id":        alert.AlertID,
		"item_id":         alert.ItemID,
		"organization_id": alert.OrganizationID,
		"severity":        alert.Severity,
		"title":           alert.Title,
		"body":            alert.Body,
		"indicator_type":  alert.IndicatorType,
		"indicator_value": alert.IndicatorValue,
		"timestamp":       alert.Timestamp,
	}

	result := rs.client.XAdd(ctx, &redis.XAddArgs{
		Stream: alertsStream,
		Values: fields,
	})

	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	rs.logger.Printf("Published alert %s (%s) to alerts stream", alert.AlertID, alert.Severity)
	return nil
}

// TrimStream removes old alerts from the stream to prevent unbounded growth
func (rs *RedisSink) TrimStream(ctx context.Context, maxLen int64) error {
	result := rs.client.XTrimMaxLen(ctx, alertsStream, maxLen)
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to trim alerts stream: %w", err)
	}

	rs.logger.Printf("Trimmed alerts stream to max length %d", maxLen)
	return nil
}

// HealthCheck performs a health check on the Redis connection
func (rs *RedisSink) HealthCheck(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// GetStats returns basic statistics about the alerts stream
func (rs *RedisSink) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	if info, err := rs.client.XInfoStream(ctx, alertsStream).Result(); err == nil {
		stats["alerts_stream"] = map[string]interface{}{
			"length":         info.Length,
			"first_entry_id": info.FirstEntry.ID,
			"last_entry_id":  info.LastEntry.ID,
		}
	}

	if groups, err := rs.client.XInfoGroups(ctx, alertsStream).Result(); err == nil {
		stats["alerts_consumer_groups"] = len(groups)
	}

	return stats, nil
}
