package bus

import (
	"context"
	"log"
	"time"
)

const maintainTimeout = 10 * time.Second

// Maintain runs one maintenance pass over the sink: health check, a stats
// snapshot for the log, and a stream trim so the alerts stream does not grow
// without bound. A failed health check skips the rest of the pass.
func Maintain(ctx context.Context, s Sink, maxLen int64, logger *log.Logger) {
	mctx, cancel := context.WithTimeout(ctx, maintainTimeout)
	defer cancel()

	if err := s.HealthCheck(mctx); err != nil {
		logger.Printf("Sink health check failed: %v", err)
		return
	}

	if stats, err := s.GetStats(mctx); err != nil {
		logger.Printf("Sink stats unavailable: %v", err)
	} else if len(stats) > 0 {
		logger.Printf("Sink stats: %v", stats)
	}

	if err := s.TrimStream(mctx, maxLen); err != nil {
		logger.Printf("Failed to trim alerts stream: %v", err)
	}
}
