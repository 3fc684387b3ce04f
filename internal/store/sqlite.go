package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
)

// Store represents the SQLite storage implementation
type Store struct {
	db *sql.DB
}

// WatchlistItem represents a tracked indicator and its one-step scan history.
// PreviousRiskScore/WasMalicious always hold the values LastRiskScore/IsMalicious
// had before the most recent successful scan; the full trail lives in scan_history.
type WatchlistItem struct {
	ID                 string     `json:"id"`
	IndicatorType      ioc.Type   `json:"indicator_type"`
	IndicatorValue     string     `json:"indicator_value"`
	LastScanAt         *time.Time `json:"last_scan_at,omitempty"`
	LastRiskScore      *int       `json:"last_risk_score,omitempty"`
	PreviousRiskScore  *int       `json:"previous_risk_score,omitempty"`
	IsMalicious        bool       `json:"is_malicious"`
	WasMalicious       bool       `json:"was_malicious"`
	ScanFrequencyHours int        `json:"scan_frequency_hours"`
	IsActive           bool       `json:"is_active"`
	AlertOnChange      bool       `json:"alert_on_change"`
	OrganizationID     *string    `json:"organization_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ScanRecord is one immutable row of the scan history trail.
type ScanRecord struct {
	ID               string    `json:"id"`
	ItemID           string    `json:"item_id"`
	ScannedAt        time.Time `json:"scanned_at"`
	RiskScore        int       `json:"risk_score"`
	IsMalicious      bool      `json:"is_malicious"`
	RawPayload       string    `json:"raw_payload,omitempty"`
	ReputationChange int       `json:"reputation_change"`
	AlertGenerated   bool      `json:"alert_generated"`
}

// Alert is a persisted alert row; created by the sweep, never mutated.
type Alert struct {
	ID             string    `json:"id"`
	ItemID         string    `json:"item_id"`
	OrganizationID *string   `json:"organization_id,omitempty"`
	Severity       string    `json:"severity"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	IndicatorType  ioc.Type  `json:"indicator_type"`
	IndicatorValue string    `json:"indicator_value"`
	CreatedAt      time.Time `json:"created_at"`
}

// ScanOutcome carries what a successful scan writes back: the history row
// fields plus the new item state. Persisted atomically by ApplyScanResult.
type ScanOutcome struct {
	ItemID           string
	ScannedAt        time.Time
	RiskScore        int
	IsMalicious      bool
	RawPayload       string
	ReputationChange int
	AlertGenerated   bool
}

// NewStore creates a new SQLite store instance
func NewStore(dbPath string) (*Store, error) {
	// Ensure target directory exists (e.g., ./data)
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dbPath+"?_journal_mode=WAL&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate performs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS watchlist_items (
			id TEXT PRIMARY KEY,
			indicator_type TEXT NOT NULL,
			indicator_value TEXT NOT NULL,
			last_scan_at INTEGER,
			last_risk_score INTEGER,
			previous_risk_score INTEGER,
			is_malicious INTEGER NOT NULL DEFAULT 0,
			was_malicious INTEGER NOT NULL DEFAULT 0,
			scan_frequency_hours INTEGER NOT NULL DEFAULT 24,
			is_active INTEGER NOT NULL DEFAULT 1,
			alert_on_change INTEGER NOT NULL DEFAULT 1,
			organization_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS scan_history (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			scanned_at INTEGER NOT NULL,
			risk_score INTEGER NOT NULL,
			is_malicious INTEGER NOT NULL,
			raw_payload TEXT,
			reputation_change INTEGER NOT NULL,
			alert_generated INTEGER NOT NULL,
			FOREIGN KEY (item_id) REFERENCES watchlist_items(id)
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			organization_id TEXT,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			indicator_type TEXT NOT NULL,
			indicator_value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (item_id) REFERENCES watchlist_items(id)
		)`,

		// Indexes for performance
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_watchlist_indicator ON watchlist_items(indicator_type, indicator_value)`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_active ON watchlist_items(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_last_scan ON watchlist_items(last_scan_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_item_id ON scan_history(item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_scanned_at ON scan_history(scanned_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_item_id ON alerts(item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_org_id ON alerts(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// AddItem inserts a watchlist item, generating an ID when absent.
// Fails if the (type, value) pair is already tracked.
func (s *Store) AddItem(ctx context.Context, item WatchlistItem) (string, error) {
	if item.ID == "" {
		item.ID = fmt.Sprintf("ioc_%d", time.Now().UnixNano())
	}
	if item.ScanFrequencyHours <= 0 {
		item.ScanFrequencyHours = 24
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now

	query := `INSERT INTO watchlist_items (
		id, indicator_type, indicator_value, last_scan_at, last_risk_score,
		previous_risk_score, is_malicious, was_malicious, scan_frequency_hours,
		is_active, alert_on_change, organization_id, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		item.ID, string(item.IndicatorType), item.IndicatorValue,
		nullTime(item.LastScanAt), nullInt(item.LastRiskScore), nullInt(item.PreviousRiskScore),
		boolToInt(item.IsMalicious), boolToInt(item.WasMalicious), item.ScanFrequencyHours,
		boolToInt(item.IsActive), boolToInt(item.AlertOnChange), nullString(item.OrganizationID),
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to add watchlist item: %w", err)
	}

	return item.ID, nil
}

// GetItem returns a watchlist item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*WatchlistItem, error) {
	row := s.db.QueryRowContext(ctx, itemSelect+` WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("watchlist item %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist item %s: %w", id, err)
	}
	return item, nil
}

// GetItemByIndicator returns the item tracking the given indicator, if any.
func (s *Store) GetItemByIndicator(ctx context.Context, typ ioc.Type, value string) (*WatchlistItem, error) {
	row := s.db.QueryRowContext(ctx, itemSelect+` WHERE indicator_type = ? AND indicator_value = ?`, string(typ), value)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item for %s %s: %w", typ, value, err)
	}
	return item, nil
}

// ListItems returns watchlist items ordered by creation time (newest first).
func (s *Store) ListItems(ctx context.Context, activeOnly bool, limit int) ([]WatchlistItem, error) {
	query := itemSelect
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListDueItems returns active items whose last scan is at least coarseWindow
// old (or that were never scanned). This is the coarse tier of the due check;
// the per-item scan_frequency_hours comparison happens in the sweep because
// the window varies per row.
func (s *Store) ListDueItems(ctx context.Context, now time.Time, coarseWindow time.Duration) ([]WatchlistItem, error) {
	cutoff := now.Add(-coarseWindow).Unix()
	query := itemSelect + ` WHERE is_active = 1
		AND (last_scan_at IS NULL OR last_scan_at <= ?)
		ORDER BY last_scan_at ASC`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query due items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// SetItemActive toggles an item's active flag. Inactive items are never scanned.
func (s *Store) SetItemActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchlist_items SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("watchlist item %s not found", id)
	}
	return nil
}

// ApplyScanResult persists a successful scan in a single transaction: it
// appends the immutable history row and rolls the item's one-step history
// forward (previous <- last, was <- is). Both writes commit or neither does.
func (s *Store) ApplyScanResult(ctx context.Context, outcome ScanOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) error {
		_ = tx.Rollback()
		return e
	}

	historyID := fmt.Sprintf("scan_%d", time.Now().UnixNano())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO scan_history (id, item_id, scanned_at, risk_score, is_malicious,
			raw_payload, reputation_change, alert_generated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		historyID, outcome.ItemID, outcome.ScannedAt.Unix(), outcome.RiskScore,
		boolToInt(outcome.IsMalicious), outcome.RawPayload,
		outcome.ReputationChange, boolToInt(outcome.AlertGenerated),
	)
	if err != nil {
		return rollback(fmt.Errorf("insert scan history for %s: %w", outcome.ItemID, err))
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE watchlist_items SET
			previous_risk_score = last_risk_score,
			was_malicious = is_malicious,
			last_risk_score = ?,
			is_malicious = ?,
			last_scan_at = ?,
			updated_at = ?
		WHERE id = ?`,
		outcome.RiskScore, boolToInt(outcome.IsMalicious),
		outcome.ScannedAt.Unix(), time.Now().Unix(), outcome.ItemID,
	)
	if err != nil {
		return rollback(fmt.Errorf("update watchlist item %s: %w", outcome.ItemID, err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InsertAlert persists an alert row, generating a UUID when absent.
func (s *Store) InsertAlert(ctx context.Context, alert Alert) (string, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, item_id, organization_id, severity, title, body,
			indicator_type, indicator_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.ItemID, nullString(alert.OrganizationID), alert.Severity,
		alert.Title, alert.Body, string(alert.IndicatorType), alert.IndicatorValue,
		alert.CreatedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert alert: %w", err)
	}
	return alert.ID, nil
}

// ListAlerts returns alerts ordered newest first.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]Alert, error) {
	query := `SELECT id, item_id, organization_id, severity, title, body,
		indicator_type, indicator_value, created_at
		FROM alerts ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var orgID sql.NullString
		var typ string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.ItemID, &orgID, &a.Severity, &a.Title, &a.Body,
			&typ, &a.IndicatorValue, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.IndicatorType = ioc.Type(typ)
		a.CreatedAt = time.Unix(createdAt, 0)
		if orgID.Valid {
			a.OrganizationID = &orgID.String
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}
	return alerts, nil
}

// ListHistory returns scan history for an item, newest first.
func (s *Store) ListHistory(ctx context.Context, itemID string, limit int) ([]ScanRecord, error) {
	query := `SELECT id, item_id, scanned_at, risk_score, is_malicious,
		raw_payload, reputation_change, alert_generated
		FROM scan_history WHERE item_id = ? ORDER BY scanned_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history for %s: %w", itemID, err)
	}
	defer rows.Close()

	var records []ScanRecord
	for rows.Next() {
		var r ScanRecord
		var scannedAt int64
		var isMalicious, alertGenerated int
		var payload sql.NullString
		if err := rows.Scan(&r.ID, &r.ItemID, &scannedAt, &r.RiskScore, &isMalicious,
			&payload, &r.ReputationChange, &alertGenerated); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.ScannedAt = time.Unix(scannedAt, 0)
		r.IsMalicious = isMalicious != 0
		r.AlertGenerated = alertGenerated != 0
		if payload.Valid {
			r.RawPayload = payload.String
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return records, nil
}

// CountHistoryForItem returns the number of history rows recorded for an item.
func (s *Store) CountHistoryForItem(ctx context.Context, itemID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM scan_history WHERE item_id = ?`, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history for %s: %w", itemID, err)
	}
	return count, nil
}

const itemSelect = `SELECT id, indicator_type, indicator_value, last_scan_at,
	last_risk_score, previous_risk_score, is_malicious, was_malicious,
	scan_frequency_hours, is_active, alert_on_change, organization_id,
	created_at, updated_at FROM watchlist_items`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanItem scans one watchlist row from a row or rows cursor.
func scanItem(row rowScanner) (*WatchlistItem, error) {
	var item WatchlistItem
	var typ string
	var lastScanAt, lastScore, prevScore sql.NullInt64
	var isMalicious, wasMalicious, isActive, alertOnChange int
	var orgID sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&item.ID, &typ, &item.IndicatorValue, &lastScanAt,
		&lastScore, &prevScore, &isMalicious, &wasMalicious,
		&item.ScanFrequencyHours, &isActive, &alertOnChange, &orgID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.IndicatorType = ioc.Type(typ)
	item.IsMalicious = isMalicious != 0
	item.WasMalicious = wasMalicious != 0
	item.IsActive = isActive != 0
	item.AlertOnChange = alertOnChange != 0
	item.CreatedAt = time.Unix(createdAt, 0)
	item.UpdatedAt = time.Unix(updatedAt, 0)

	if lastScanAt.Valid {
		t := time.Unix(lastScanAt.Int64, 0)
		item.LastScanAt = &t
	}
	if lastScore.Valid {
		v := int(lastScore.Int64)
		item.LastRiskScore = &v
	}
	if prevScore.Valid {
		v := int(prevScore.Int64)
		item.PreviousRiskScore = &v
	}
	if orgID.Valid {
		item.OrganizationID = &orgID.String
	}

	return &item, nil
}

func scanItems(rows *sql.Rows) ([]WatchlistItem, error) {
	var items []WatchlistItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watchlist item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlist rows: %w", err)
	}
	return items, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
