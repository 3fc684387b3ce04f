package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsoc/iocwatch/internal/analysis"
	"github.com/sentinelsoc/iocwatch/internal/bus"
	"github.com/sentinelsoc/iocwatch/internal/ioc"
	"github.com/sentinelsoc/iocwatch/internal/reputation"
	"github.com/sentinelsoc/iocwatch/internal/store"
)

// fakeChecker returns canned results per indicator value and counts calls.
type fakeChecker struct {
	results map[string]*reputation.Result
	errs    map[string]error
	calls   map[string]int
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{
		results: make(map[string]*reputation.Result),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeChecker) Check(ctx context.Context, t ioc.Type, value string) (*reputation.Result, error) {
	f.calls[value]++
	if err, ok := f.errs[value]; ok {
		return nil, err
	}
	if r, ok := f.results[value]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("no canned result for %s", value)
}

// captureSink records published alert messages.
type captureSink struct {
	published []bus.AlertMessage
}

func (c *captureSink) PublishAlert(ctx context.Context, alert bus.AlertMessage) error {
	c.published = append(c.published, alert)
	return nil
}
func (c *captureSink) TrimStream(ctx context.Context, maxLen int64) error           { return nil }
func (c *captureSink) GetStats(ctx context.Context) (map[string]interface{}, error) { return nil, nil }
func (c *captureSink) HealthCheck(ctx context.Context) error                        { return nil }
func (c *captureSink) Close() error                                                 { return nil }

func testSweeper(t *testing.T, st *store.Store, checker Checker, sink bus.Sink) *Sweeper {
	t.Helper()
	if sink == nil {
		sink = bus.NewNullSink(log.New(io.Discard, "", 0))
	}
	return NewSweeper(st, checker, sink, nil,
		Options{Pacing: time.Millisecond}, log.New(io.Discard, "", 0))
}

func mustAddItem(t *testing.T, st *store.Store, item store.WatchlistItem) string {
	t.Helper()
	id, err := st.AddItem(context.Background(), item)
	require.NoError(t, err)
	return id
}

func intPtr(v int) *int              { return &v }
func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func TestEndToEndReputationJump(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	id := mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeIP,
		IndicatorValue:     "203.0.113.5",
		LastScanAt:         timePtr(time.Now().Add(-30 * time.Hour)),
		LastRiskScore:      intPtr(20),
		ScanFrequencyHours: 24,
		IsActive:           true,
		AlertOnChange:      true,
		OrganizationID:     strPtr("org_1"),
	})

	checker := newFakeChecker()
	checker.results["203.0.113.5"] = &reputation.Result{
		RiskScore: 72, IsMalicious: true, Source: "virustotal", RawPayload: `{"x":1}`,
	}
	sink := &captureSink{}

	report, err := testSweeper(t, st, checker, sink).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ScannedCount)
	assert.Equal(t, 1, report.AlertsGeneratedCount)
	assert.Equal(t, 0, report.ErrorCount)

	// Watchlist item rolled forward
	item, err := st.GetItem(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, item.PreviousRiskScore)
	assert.Equal(t, 20, *item.PreviousRiskScore)
	assert.Equal(t, 72, *item.LastRiskScore)
	assert.False(t, item.WasMalicious)
	assert.True(t, item.IsMalicious)

	// History row with the computed delta
	records, err := st.ListHistory(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 52, records[0].ReputationChange)
	assert.True(t, records[0].AlertGenerated)

	// Exactly one high-severity alert referencing the indicator
	alerts, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Title, "203.0.113.5")
	assert.Contains(t, alerts[0].Body, "20")
	assert.Contains(t, alerts[0].Body, "72")

	// Published to the tenant-scoped sink
	require.Len(t, sink.published, 1)
	assert.Equal(t, "org_1", sink.published[0].OrganizationID)
	assert.Equal(t, "high", sink.published[0].Severity)
}

func TestNoAlertBelowThresholdWithoutStatusChange(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	id := mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeDomain,
		IndicatorValue:     "steady.example.com",
		LastScanAt:         timePtr(time.Now().Add(-2 * time.Hour)),
		LastRiskScore:      intPtr(40),
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      true,
	})

	checker := newFakeChecker()
	checker.results["steady.example.com"] = &reputation.Result{RiskScore: 45, IsMalicious: false}

	report, err := testSweeper(t, st, checker, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ScannedCount)
	assert.Equal(t, 0, report.AlertsGeneratedCount)

	alerts, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// Scan still persisted
	item, err := st.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 45, *item.LastRiskScore)
}

func TestAlertOnChangeDisabled(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	id := mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeIP,
		IndicatorValue:     "198.51.100.7",
		LastRiskScore:      intPtr(5),
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      false,
	})

	checker := newFakeChecker()
	checker.results["198.51.100.7"] = &reputation.Result{RiskScore: 95, IsMalicious: true}

	report, err := testSweeper(t, st, checker, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ScannedCount)
	assert.Equal(t, 0, report.AlertsGeneratedCount, "alertOnChange=false never alerts")

	alerts, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	records, err := st.ListHistory(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].AlertGenerated)
}

func TestSkipWithinFrequencyWindow(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	// Scanned 2h ago: passes the 1h coarse filter but its own 24h window
	// has not elapsed, so the fine check must skip it with zero calls.
	lastScan := time.Now().Add(-2 * time.Hour)
	id := mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeIP,
		IndicatorValue:     "192.0.2.9",
		LastScanAt:         timePtr(lastScan),
		LastRiskScore:      intPtr(10),
		ScanFrequencyHours: 24,
		IsActive:           true,
		AlertOnChange:      true,
	})

	checker := newFakeChecker()

	report, err := testSweeper(t, st, checker, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ScannedCount)
	assert.Equal(t, 0, report.ErrorCount)
	require.Len(t, report.Items, 1)
	assert.True(t, report.Items[0].Skipped)
	assert.Equal(t, 0, checker.calls["192.0.2.9"], "skipped items make no network calls")

	// No mutation
	item, err := st.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, *item.LastRiskScore)
	assert.Equal(t, lastScan.Unix(), item.LastScanAt.Unix())

	count, err := st.CountHistoryForItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestScanFailureContinuesSweep(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	failingID := mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeIP,
		IndicatorValue:     "203.0.113.99",
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      true,
	})
	mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeDomain,
		IndicatorValue:     "ok.example.com",
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      true,
	})

	checker := newFakeChecker()
	checker.errs["203.0.113.99"] = &reputation.ScanFailure{
		Type: ioc.TypeIP, Value: "203.0.113.99",
		Err: errors.New("primary: connect refused; fallback: status 503"),
	}
	checker.results["ok.example.com"] = &reputation.Result{RiskScore: 3, IsMalicious: false}

	report, err := testSweeper(t, st, checker, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ErrorCount)
	assert.Equal(t, 1, report.ScannedCount, "failure of one item must not abort the sweep")

	// Failed item untouched and still due: no history, no last_scan_at
	item, err := st.GetItem(ctx, failingID)
	require.NoError(t, err)
	assert.Nil(t, item.LastScanAt)
	count, err := st.CountHistoryForItem(ctx, failingID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSignificantChangeMediumSeverity(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeDomain,
		IndicatorValue:     "drift.example.com",
		LastRiskScore:      intPtr(40),
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      true,
	})

	checker := newFakeChecker()
	checker.results["drift.example.com"] = &reputation.Result{RiskScore: 55, IsMalicious: false}

	report, err := testSweeper(t, st, checker, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertsGeneratedCount)
	require.Len(t, report.Items, 1)
	assert.Equal(t, 15, report.Items[0].ReputationChange)

	alerts, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "medium", alerts[0].Severity, "score-only movement is medium")
	assert.Contains(t, alerts[0].Body, "+15")
}

func TestStatusFlipToMaliciousIsHigh(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeHash,
		IndicatorValue:     "d41d8cd98f00b204e9800998ecf8427e",
		LastRiskScore:      intPtr(50),
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      true,
	})

	checker := newFakeChecker()
	// Delta below the floor: status flip alone must still alert, at high.
	checker.results["d41d8cd98f00b204e9800998ecf8427e"] = &reputation.Result{RiskScore: 55, IsMalicious: true}

	report, err := testSweeper(t, st, checker, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertsGeneratedCount)

	alerts, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestMaliciousToCleanIsLow(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeIP,
		IndicatorValue:     "203.0.113.200",
		LastRiskScore:      intPtr(60),
		IsMalicious:        true,
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      true,
	})

	checker := newFakeChecker()
	checker.results["203.0.113.200"] = &reputation.Result{RiskScore: 55, IsMalicious: false}

	_, err = testSweeper(t, st, checker, nil).Run(ctx)
	require.NoError(t, err)

	alerts, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "low", alerts[0].Severity)
}

func TestOrgLessAlertSkipsSinkPublish(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeIP,
		IndicatorValue:     "203.0.113.77",
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      true,
	})

	checker := newFakeChecker()
	checker.results["203.0.113.77"] = &reputation.Result{RiskScore: 90, IsMalicious: true}
	sink := &captureSink{}

	report, err := testSweeper(t, st, checker, sink).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertsGeneratedCount)

	// Local row exists for operator visibility, but there is no tenant to
	// publish for.
	alerts, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Empty(t, sink.published)
}

func TestTriageNoteSeesPostScanScores(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	var prompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		prompt = req.Messages[0].Content
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Block the IP and review recent connections."}}]}`)
	}))
	defer server.Close()

	gateway, err := analysis.NewGateway(server.URL, "test-model", "sk-test", log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.NotNil(t, gateway)

	mustAddItem(t, st, store.WatchlistItem{
		IndicatorType:      ioc.TypeIP,
		IndicatorValue:     "203.0.113.42",
		LastRiskScore:      intPtr(20),
		ScanFrequencyHours: 1,
		IsActive:           true,
		AlertOnChange:      true,
	})

	checker := newFakeChecker()
	checker.results["203.0.113.42"] = &reputation.Result{RiskScore: 72, IsMalicious: true}

	sweeper := NewSweeper(st, checker, bus.NewNullSink(log.New(io.Discard, "", 0)), gateway,
		Options{Pacing: time.Millisecond}, log.New(io.Discard, "", 0))

	report, err := sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertsGeneratedCount)

	// The prompt reflects the scan that triggered the alert, not the state
	// the item was loaded with.
	assert.Contains(t, prompt, "Previous risk score: 20")
	assert.Contains(t, prompt, "Current risk score: 72")
	assert.Contains(t, prompt, "now malicious: true")

	alerts, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Body, "Triage: Block the IP")
}

func TestPacingBetweenScans(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	for _, v := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		mustAddItem(t, st, store.WatchlistItem{
			IndicatorType:      ioc.TypeIP,
			IndicatorValue:     v,
			ScanFrequencyHours: 1,
			IsActive:           true,
		})
	}

	checker := newFakeChecker()
	for _, v := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		checker.results[v] = &reputation.Result{RiskScore: 1, IsMalicious: false}
	}

	sweeper := NewSweeper(st, checker, bus.NewNullSink(log.New(io.Discard, "", 0)), nil,
		Options{Pacing: 40 * time.Millisecond}, log.New(io.Discard, "", 0))

	start := time.Now()
	report, err := sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.ScannedCount)
	// Two pacing gaps between three scans
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
