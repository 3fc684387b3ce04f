package reputation

import (
	"context"
	"time"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
)

// Result is the normalized outcome of one reputation lookup.
// RiskScore is 0-100; RawPayload carries the source's response verbatim for
// the scan history trail.
type Result struct {
	RiskScore   int    `json:"risk_score"`
	IsMalicious bool   `json:"is_malicious"`
	Source      string `json:"source"`
	RawPayload  string `json:"raw_payload,omitempty"`
}

// Source is one external reputation API. Implementations are purely
// functional per call: one outbound request, no retries, no side effects.
type Source interface {
	// Name identifies the source in logs and history payloads.
	Name() string

	// Supports reports whether the source can score the given indicator type.
	Supports(t ioc.Type) bool

	// Check looks up one indicator and normalizes the answer.
	Check(ctx context.Context, t ioc.Type, value string) (*Result, error)

	// Close releases the source's rate limiter and connections.
	Close()
}

// Config holds the settings shared by the HTTP-backed sources.
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	RateLimitRPS int
	BurstLimit   int
}

func (c *Config) applyDefaults(defaultBaseURL string) {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimitRPS == 0 {
		c.RateLimitRPS = 4
	}
	if c.BurstLimit == 0 {
		c.BurstLimit = c.RateLimitRPS * 2
	}
}
