package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClassifier delegates classification to a remote scoring service.
// Calls are rate limited and bounded by the client timeout.
type HTTPClassifier struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label string `json:"label"`
}

// NewHTTPClassifier creates a client for the service at url. A non-positive
// rps disables rate limiting.
func NewHTTPClassifier(url string, timeout time.Duration, rps float64) *HTTPClassifier {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &HTTPClassifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Classify posts the flattened text and returns the label from the response.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("classifier rate limit: %w", err)
	}

	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal classify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("classifier returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode classify response: %w", err)
	}
	if out.Label == "" {
		return "", fmt.Errorf("classifier returned an empty label")
	}
	return out.Label, nil
}
