package bus

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink counts maintenance calls and can fail its health check.
type recordingSink struct {
	healthErr error

	healthChecks int
	statsCalls   int
	trimCalls    int
	trimMaxLen   int64
}

func (r *recordingSink) PublishAlert(ctx context.Context, alert AlertMessage) error { return nil }

func (r *recordingSink) TrimStream(ctx context.Context, maxLen int64) error {
	r.trimCalls++
	r.trimMaxLen = maxLen
	return nil
}

func (r *recordingSink) GetStats(ctx context.Context) (map[string]interface{}, error) {
	r.statsCalls++
	return map[string]interface{}{"alerts_stream": "ok"}, nil
}

func (r *recordingSink) HealthCheck(ctx context.Context) error {
	r.healthChecks++
	return r.healthErr
}

func (r *recordingSink) Close() error { return nil }

func TestMaintainRunsFullPass(t *testing.T) {
	sink := &recordingSink{}

	Maintain(context.Background(), sink, 10000, log.New(io.Discard, "", 0))

	assert.Equal(t, 1, sink.healthChecks)
	assert.Equal(t, 1, sink.statsCalls)
	assert.Equal(t, 1, sink.trimCalls)
	assert.Equal(t, int64(10000), sink.trimMaxLen)
}

func TestMaintainSkipsTrimWhenUnhealthy(t *testing.T) {
	sink := &recordingSink{healthErr: errors.New("connection refused")}

	Maintain(context.Background(), sink, 10000, log.New(io.Discard, "", 0))

	assert.Equal(t, 1, sink.healthChecks)
	assert.Equal(t, 0, sink.statsCalls)
	assert.Equal(t, 0, sink.trimCalls, "no trim against an unhealthy sink")
}

func TestNullSinkMaintenanceIsHarmless(t *testing.T) {
	sink := NewSink("", log.New(io.Discard, "", 0))
	_, ok := sink.(*NullSink)
	require.True(t, ok)

	require.NoError(t, sink.TrimStream(context.Background(), 100))
	Maintain(context.Background(), sink, 100, log.New(io.Discard, "", 0))
}
