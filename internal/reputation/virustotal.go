package reputation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
)

const defaultVirusTotalURL = "https://www.virustotal.com"

// suspiciousEngineCeiling: more than this many engines flagging an indicator
// as suspicious classifies it malicious even with zero malicious verdicts.
const suspiciousEngineCeiling = 2

// VirusTotalClient scores any indicator type via the VirusTotal v3 API.
// Per-engine verdict counts are normalized to a 0-100 risk score:
// round(100 * (malicious + suspicious) / totalEngines).
type VirusTotalClient struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *log.Logger
}

// NewVirusTotalClient creates a VirusTotal source. As with AbuseIPDB, the
// missing-key case surfaces per Check call.
func NewVirusTotalClient(config Config, logger *log.Logger) *VirusTotalClient {
	config.applyDefaults(defaultVirusTotalURL)
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if logger == nil {
		logger = log.New(log.Writer(), "[virustotal] ", log.LstdFlags)
	}

	return &VirusTotalClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		rateLimiter: NewRateLimiter(config.RateLimitRPS, config.BurstLimit),
		logger:      logger,
	}
}

// Name implements Source.
func (c *VirusTotalClient) Name() string { return "virustotal" }

// Supports implements Source. VirusTotal covers every watchlist type.
func (c *VirusTotalClient) Supports(t ioc.Type) bool { return t.IsValid() }

// Close implements Source.
func (c *VirusTotalClient) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Close()
	}
}

// Check implements Source. One outbound request, no retries.
func (c *VirusTotalClient) Check(ctx context.Context, t ioc.Type, value string) (*Result, error) {
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("virustotal: %w", ErrMissingCredential)
	}

	endpoint, err := c.endpointFor(t, value)
	if err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("virustotal: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("virustotal: build request: %w", err)
	}
	req.Header.Set("x-apikey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Source: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Source: c.Name(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		// No analysis exists for the indicator. Not an error: zero engines
		// seen means risk score 0.
		c.logger.Printf("No analysis for %s %s", t, value)
		return &Result{RiskScore: 0, IsMalicious: false, Source: c.Name(), RawPayload: string(body)}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("virustotal: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed struct {
		Data struct {
			Attributes struct {
				LastAnalysisStats map[string]int `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("virustotal: decode response: %w", err)
	}

	malicious, suspicious, total := tallyStats(parsed.Data.Attributes.LastAnalysisStats)
	score := 0
	if total > 0 {
		score = int(math.Round(100 * float64(malicious+suspicious) / float64(total)))
	}

	c.logger.Printf("Checked %s %s: malicious=%d suspicious=%d engines=%d score=%d",
		t, value, malicious, suspicious, total, score)

	return &Result{
		RiskScore:   score,
		IsMalicious: malicious > 0 || suspicious > suspiciousEngineCeiling,
		Source:      c.Name(),
		RawPayload:  string(body),
	}, nil
}

// endpointFor maps an indicator type to its v3 API path. URL indicators are
// addressed by their unpadded base64url id per the VirusTotal API.
func (c *VirusTotalClient) endpointFor(t ioc.Type, value string) (string, error) {
	switch t {
	case ioc.TypeIP:
		return "/api/v3/ip_addresses/" + url.PathEscape(value), nil
	case ioc.TypeDomain:
		return "/api/v3/domains/" + url.PathEscape(value), nil
	case ioc.TypeHash:
		return "/api/v3/files/" + url.PathEscape(value), nil
	case ioc.TypeURL:
		id := base64.RawURLEncoding.EncodeToString([]byte(value))
		return "/api/v3/urls/" + id, nil
	default:
		return "", fmt.Errorf("virustotal: unsupported indicator type %s", t)
	}
}

// tallyStats splits the per-engine verdict counts into the malicious and
// suspicious buckets and the total engine count across every category.
func tallyStats(stats map[string]int) (malicious, suspicious, total int) {
	for category, count := range stats {
		if count < 0 {
			continue
		}
		switch category {
		case "malicious":
			malicious += count
		case "suspicious":
			suspicious += count
		}
		total += count
	}
	return malicious, suspicious, total
}
