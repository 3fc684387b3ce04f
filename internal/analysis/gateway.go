package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sentinelsoc/iocwatch/internal/store"
)

// Gateway calls an OpenAI-compatible completion endpoint to produce short
// analyst triage notes for high-severity alerts. When no API key is
// configured the gateway is simply disabled; alert generation never depends
// on it.
type Gateway struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *log.Logger
}

const defaultGatewayEndpoint = "https://openrouter.ai/api/v1"

// NewGateway constructs a completion gateway client. apiKey falls back to
// the OPENROUTER_API_KEY env var; an empty key yields a disabled gateway
// (nil, nil), not an error.
func NewGateway(endpoint, model, apiKey string, logger *log.Logger) (*Gateway, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	}
	if key == "" {
		return nil, nil
	}

	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultGatewayEndpoint
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("analysis: model required when gateway is enabled")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[analysis] ", log.LstdFlags)
	}

	return &Gateway{
		endpoint:   strings.TrimRight(ep, "/"),
		model:      strings.TrimSpace(model),
		apiKey:     key,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}, nil
}

// TriageNote asks the gateway for a short triage note on an alert.
func (g *Gateway) TriageNote(ctx context.Context, alert store.Alert, item store.WatchlistItem) (string, error) {
	var sb strings.Builder
	sb.WriteString("You are a SOC analyst. In at most four sentences, assess the following watchlist alert and recommend an immediate next step.\n\n")
	sb.WriteString(fmt.Sprintf("Indicator: %s (%s)\n", alert.IndicatorValue, alert.IndicatorType))
	sb.WriteString(fmt.Sprintf("Severity: %s\n", alert.Severity))
	if item.PreviousRiskScore != nil {
		sb.WriteString(fmt.Sprintf("Previous risk score: %d\n", *item.PreviousRiskScore))
	}
	if item.LastRiskScore != nil {
		sb.WriteString(fmt.Sprintf("Current risk score: %d\n", *item.LastRiskScore))
	}
	sb.WriteString(fmt.Sprintf("Previously malicious: %v, now malicious: %v\n", item.WasMalicious, item.IsMalicious))
	sb.WriteString("\n" + alert.Body + "\n")

	return g.complete(ctx, sb.String())
}

// complete sends one chat completion request (OpenAI chat schema).
func (g *Gateway) complete(ctx context.Context, prompt string) (string, error) {
	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model     string    `json:"model"`
		Messages  []chatMsg `json:"messages"`
		MaxTokens int       `json:"max_tokens,omitempty"`
	}
	type chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}

	payload := chatReq{
		Model:     g.model,
		Messages:  []chatMsg{{Role: "user", Content: prompt}},
		MaxTokens: 300,
	}
	data, _ := json.Marshal(payload)

	url := g.endpoint + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("analysis: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis: request error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("analysis: status %d: %s", resp.StatusCode, truncateBody(string(body), 400))
	}

	var parsed chatResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("analysis: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("analysis: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("analysis: empty choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func truncateBody(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
