package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
)

const defaultAbuseIPDBURL = "https://api.abuseipdb.com"

// maliciousConfidenceFloor is the abuse confidence score above which an IP
// is classified malicious.
const maliciousConfidenceFloor = 50

// AbuseIPDBClient scores IP indicators via the AbuseIPDB check endpoint.
// The abuse confidence score is already 0-100 and is used as the risk score
// directly.
type AbuseIPDBClient struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *log.Logger
}

// NewAbuseIPDBClient creates an AbuseIPDB source. A missing API key is not an
// error here; Check reports it per attempt so the sweep can count it.
func NewAbuseIPDBClient(config Config, logger *log.Logger) *AbuseIPDBClient {
	config.applyDefaults(defaultAbuseIPDBURL)
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if logger == nil {
		logger = log.New(log.Writer(), "[abuseipdb] ", log.LstdFlags)
	}

	return &AbuseIPDBClient{
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
func (c *AbuseIPDBClient) Name() string { return "abuseipdb" }

// Supports implements Source. AbuseIPDB only knows IP addresses.
func (c *AbuseIPDBClient) Supports(t ioc.Type) bool { return t == ioc.TypeIP }

// Close implements Source.
func (c *AbuseIPDBClient) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Close()
	}
}

// Check implements Source. One outbound request, no retries.
func (c *AbuseIPDBClient) Check(ctx context.Context, t ioc.Type, value string) (*Result, error) {
	if !c.Supports(t) {
		return nil, fmt.Errorf("abuseipdb: unsupported indicator type %s", t)
	}
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("abuseipdb: %w", ErrMissingCredential)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("abuseipdb: rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("ipAddress", value)
	params.Set("maxAgeInDays", "90")
	reqURL := c.config.BaseURL + "/api/v2/check?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("abuseipdb: build request: %w", err)
	}
	req.Header.Set("Key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Source: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &TransientError{Source: c.Name(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("abuseipdb: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed struct {
		Data struct {
			AbuseConfidenceScore int  `json:"abuseConfidenceScore"`
			IsWhitelisted        bool `json:"isWhitelisted"`
			TotalReports         int  `json:"totalReports"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("abuseipdb: decode response: %w", err)
	}

	score := parsed.Data.AbuseConfidenceScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	c.logger.Printf("Checked %s: confidence=%d reports=%d", value, score, parsed.Data.TotalReports)

	return &Result{
		RiskScore:   score,
		IsMalicious: score > maliciousConfidenceFloor,
		Source:      c.Name(),
		RawPayload:  string(body),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
