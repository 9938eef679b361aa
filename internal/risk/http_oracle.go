package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sui-sniper/internal/domain"
)

// Default configuration values.
const (
	DefaultHTTPTimeout = 10 * time.Second
	scorePath          = "/v1/score"
)

// HTTPOracle queries an external token scoring service over HTTP.
type HTTPOracle struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPOption configures an HTTPOracle.
type HTTPOption func(*HTTPOracle)

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) HTTPOption {
	return func(o *HTTPOracle) {
		o.apiKey = key
	}
}

// WithHTTPTimeout sets the request timeout.
func WithHTTPTimeout(timeout time.Duration) HTTPOption {
	return func(o *HTTPOracle) {
		o.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *HTTPOracle) {
		o.httpClient = client
	}
}

// NewHTTPOracle creates an Oracle backed by a scoring service at baseURL.
func NewHTTPOracle(baseURL string, opts ...HTTPOption) *HTTPOracle {
	o := &HTTPOracle{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Compile-time interface check.
var _ Oracle = (*HTTPOracle)(nil)

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score fetches the scam score for the pool's non-SUI coin type.
func (o *HTTPOracle) Score(ctx context.Context, pool *domain.Pool) (float64, error) {
	endpoint := o.baseURL + scorePath + "?coin_type=" + url.QueryEscape(pool.TokenType())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("score request: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed scoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Score < 0 || parsed.Score > 100 {
		return 0, fmt.Errorf("score %.2f out of range", parsed.Score)
	}
	return parsed.Score, nil
}
