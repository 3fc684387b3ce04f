package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sentinelsoc/iocwatch/internal/analysis"
	"github.com/sentinelsoc/iocwatch/internal/bus"
	"github.com/sentinelsoc/iocwatch/internal/ioc"
	"github.com/sentinelsoc/iocwatch/internal/reputation"
	"github.com/sentinelsoc/iocwatch/internal/store"
)

const (
	// significantChangeFloor is the absolute reputation delta at which a
	// score movement alone (no status flip) is alert-worthy.
	significantChangeFloor = 10

	// minScanInterval floors every per-item frequency; the coarse due query
	// uses it as its window so no item is scanned more often than hourly.
	minScanInterval = time.Hour

	// defaultPacing is the fixed wait between successive outbound
	// reputation requests, to respect third-party rate limits.
	defaultPacing = time.Second
)

// Store is the slice of the watchlist store the sweeper needs.
type Store interface {
	ListDueItems(ctx context.Context, now time.Time, coarseWindow time.Duration) ([]store.WatchlistItem, error)
	ApplyScanResult(ctx context.Context, outcome store.ScanOutcome) error
	InsertAlert(ctx context.Context, alert store.Alert) (string, error)
}

// Checker resolves one indicator to a normalized reputation result.
type Checker interface {
	Check(ctx context.Context, t ioc.Type, value string) (*reputation.Result, error)
}

// Options tune a sweeper. Zero values take the documented defaults.
type Options struct {
	// Pacing is the fixed delay between successive reputation requests.
	Pacing time.Duration

	// Now is the clock; replaced in tests.
	Now func() time.Time
}

// Sweeper runs complete passes over the due portion of the watchlist:
// select due items, scan each sequentially, compute the reputation delta,
// raise alerts on meaningful change, and persist the outcome. A single
// item's failure never aborts the sweep.
type Sweeper struct {
	store   Store
	checker Checker
	sink    bus.Sink
	gateway *analysis.Gateway // optional triage notes; nil when disabled
	opts    Options
	logger  *log.Logger
}

// ItemDetail is the per-item entry of a sweep report.
type ItemDetail struct {
	ItemID           string `json:"item_id"`
	IndicatorType    string `json:"indicator_type"`
	IndicatorValue   string `json:"indicator_value"`
	Skipped          bool   `json:"skipped,omitempty"`
	Scanned          bool   `json:"scanned,omitempty"`
	RiskScore        int    `json:"risk_score,omitempty"`
	ReputationChange int    `json:"reputation_change,omitempty"`
	AlertID          string `json:"alert_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Report summarizes one sweep.
type Report struct {
	StartedAt            time.Time    `json:"started_at"`
	FinishedAt           time.Time    `json:"finished_at"`
	ScannedCount         int          `json:"scanned_count"`
	AlertsGeneratedCount int          `json:"alerts_generated_count"`
	ErrorCount           int          `json:"error_count"`
	Items                []ItemDetail `json:"items"`
}

// NewSweeper builds a sweeper. sink must be non-nil (use bus.NewNullSink);
// gateway may be nil.
func NewSweeper(st Store, checker Checker, sink bus.Sink, gateway *analysis.Gateway, opts Options, logger *log.Logger) *Sweeper {
	if opts.Pacing == 0 {
		opts.Pacing = defaultPacing
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[sweep] ", log.LstdFlags)
	}
	return &Sweeper{
		store:   st,
		checker: checker,
		sink:    sink,
		gateway: gateway,
		opts:    opts,
		logger:  logger,
	}
}

// Run executes one full sweep and returns its report. The only fatal error
// is failing to read the due list; everything after that is per-item.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	started := s.opts.Now()
	report := &Report{StartedAt: started}

	items, err := s.store.ListDueItems(ctx, started, minScanInterval)
	if err != nil {
		return nil, fmt.Errorf("select due items: %w", err)
	}

	s.logger.Printf("Sweep started: %d candidate item(s)", len(items))

	scannedAny := false
	for _, item := range items {
		if ctx.Err() != nil {
			s.logger.Printf("Sweep aborted: %v", ctx.Err())
			break
		}

		detail := ItemDetail{
			ItemID:         item.ID,
			IndicatorType:  string(item.IndicatorType),
			IndicatorValue: item.IndicatorValue,
		}

		// Fine-grained due check: the coarse query cannot express the
		// per-row frequency, so items with a longer configured window are
		// skipped here without side effects.
		if !s.itemDue(item) {
			detail.Skipped = true
			report.Items = append(report.Items, detail)
			continue
		}

		// Fixed pacing between successive outbound reputation requests.
		if scannedAny {
			if err := s.pace(ctx); err != nil {
				s.logger.Printf("Sweep aborted during pacing: %v", err)
				break
			}
		}
		scannedAny = true

		s.processItem(ctx, item, &detail, report)
		report.Items = append(report.Items, detail)
	}

	report.FinishedAt = s.opts.Now()
	s.logger.Printf("Sweep finished: scanned=%d alerts=%d errors=%d",
		report.ScannedCount, report.AlertsGeneratedCount, report.ErrorCount)

	return report, nil
}

// processItem runs scan -> delta -> alert -> persist for one item. Failures
// are recorded on the detail and counted; the item stays due because
// last_scan_at only advances on a successful persist.
func (s *Sweeper) processItem(ctx context.Context, item store.WatchlistItem, detail *ItemDetail, report *Report) {
	result, err := s.checker.Check(ctx, item.IndicatorType, item.IndicatorValue)
	if err != nil {
		s.logger.Printf("Scan failed for %s %s: %v", item.IndicatorType, item.IndicatorValue, err)
		detail.Error = err.Error()
		report.ErrorCount++
		return
	}

	scannedAt := s.opts.Now()
	delta := computeDelta(item, result)

	detail.RiskScore = result.RiskScore
	detail.ReputationChange = delta.change

	shouldAlert := item.AlertOnChange && (delta.statusChanged || delta.significant)

	// Alert first: at-least-once. If the item update below fails, the item
	// stays due and a duplicate alert next sweep is acceptable.
	if shouldAlert {
		alertID, err := s.raiseAlert(ctx, item, result, delta)
		if err != nil {
			s.logger.Printf("Alert write failed for %s: %v", item.IndicatorValue, err)
			report.ErrorCount++
		} else {
			detail.AlertID = alertID
			report.AlertsGeneratedCount++
		}
	}

	err = s.store.ApplyScanResult(ctx, store.ScanOutcome{
		ItemID:           item.ID,
		ScannedAt:        scannedAt,
		RiskScore:        result.RiskScore,
		IsMalicious:      result.IsMalicious,
		RawPayload:       result.RawPayload,
		ReputationChange: delta.change,
		AlertGenerated:   shouldAlert,
	})
	if err != nil {
		s.logger.Printf("Persist failed for %s: %v", item.IndicatorValue, err)
		detail.Error = err.Error()
		report.ErrorCount++
		return
	}

	detail.Scanned = true
	report.ScannedCount++
}

type deltaResult struct {
	change        int
	statusChanged bool
	significant   bool
	priorScore    *int
}

// computeDelta derives the reputation movement. A never-scored item is
// treated as prior score 0 for delta purposes only.
func computeDelta(item store.WatchlistItem, result *reputation.Result) deltaResult {
	prior := 0
	if item.LastRiskScore != nil {
		prior = *item.LastRiskScore
	}
	change := result.RiskScore - prior
	abs := change
	if abs < 0 {
		abs = -abs
	}
	return deltaResult{
		change:        change,
		statusChanged: item.IsMalicious != result.IsMalicious,
		significant:   abs >= significantChangeFloor,
		priorScore:    item.LastRiskScore,
	}
}

// raiseAlert persists the alert row and publishes it to the sink. The
// tenant-scoped sink publish is skipped silently for org-less items.
func (s *Sweeper) raiseAlert(ctx context.Context, item store.WatchlistItem, result *reputation.Result, delta deltaResult) (string, error) {
	severity := alertSeverity(result.IsMalicious, delta.significant)

	prevScore := "none"
	if delta.priorScore != nil {
		prevScore = fmt.Sprintf("%d", *delta.priorScore)
	}

	alert := store.Alert{
		ItemID:         item.ID,
		OrganizationID: item.OrganizationID,
		Severity:       severity,
		Title:          fmt.Sprintf("IOC reputation change: %s (%s)", item.IndicatorValue, item.IndicatorType),
		Body: fmt.Sprintf(
			"Indicator %s (%s): risk score %s -> %d (change %+d); malicious %v -> %v",
			item.IndicatorValue, item.IndicatorType,
			prevScore, result.RiskScore, delta.change,
			item.IsMalicious, result.IsMalicious,
		),
		IndicatorType:  item.IndicatorType,
		IndicatorValue: item.IndicatorValue,
		CreatedAt:      s.opts.Now(),
	}

	if s.gateway != nil && severity == "high" {
		// The triage prompt reports the post-scan view of the item, not
		// the state loaded at the start of the sweep.
		updated := item
		updated.PreviousRiskScore = item.LastRiskScore
		newScore := result.RiskScore
		updated.LastRiskScore = &newScore
		updated.WasMalicious = item.IsMalicious
		updated.IsMalicious = result.IsMalicious
		if note, err := s.gateway.TriageNote(ctx, alert, updated); err != nil {
			s.logger.Printf("Triage note failed for %s: %v", item.IndicatorValue, err)
		} else if note != "" {
			alert.Body += "\n\nTriage: " + note
		}
	}

	alertID, err := s.store.InsertAlert(ctx, alert)
	if err != nil {
		return "", fmt.Errorf("insert alert: %w", err)
	}

	if item.OrganizationID == nil {
		s.logger.Printf("Alert %s has no organization, skipping sink publish", alertID)
		return alertID, nil
	}

	msg := bus.AlertMessage{
		AlertID:        alertID,
		ItemID:         item.ID,
		OrganizationID: *item.OrganizationID,
		Severity:       severity,
		Title:          alert.Title,
		Body:           alert.Body,
		IndicatorType:  string(item.IndicatorType),
		IndicatorValue: item.IndicatorValue,
		Timestamp:      alert.CreatedAt.Unix(),
	}
	if err := s.sink.PublishAlert(ctx, msg); err != nil {
		// The durable row exists; stream consumers reconcile from it.
		s.logger.Printf("Sink publish failed for alert %s: %v", alertID, err)
	}

	return alertID, nil
}

// alertSeverity: high when the new classification is malicious, medium for a
// significant score move, low otherwise (e.g. a malicious->clean flip).
func alertSeverity(isMalicious, significant bool) string {
	switch {
	case isMalicious:
		return "high"
	case significant:
		return "medium"
	default:
		return "low"
	}
}

// itemDue applies the per-item frequency, floored at the minimum interval.
func (s *Sweeper) itemDue(item store.WatchlistItem) bool {
	if item.LastScanAt == nil {
		return true
	}
	freq := time.Duration(item.ScanFrequencyHours) * time.Hour
	if freq < minScanInterval {
		freq = minScanInterval
	}
	return s.opts.Now().Sub(*item.LastScanAt) >= freq
}

// pace waits the configured delay or returns early when ctx is cancelled.
func (s *Sweeper) pace(ctx context.Context) error {
	timer := time.NewTimer(s.opts.Pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
