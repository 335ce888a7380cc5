package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Client runs instant queries against the Prometheus HTTP API
type Client struct {
	prometheusURL string
	client        *http.Client
	log           *zap.Logger
}

func NewClient(promURL string, log *zap.Logger) *Client {
	return &Client{
		prometheusURL: strings.TrimRight(promURL, "/"),
		client:        &http.Client{Timeout: 5 * time.Second},
		log:           log,
	}
}

// Prometheus API response structure
type prometheusResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  interface{}       `json:"value"`
		} `json:"result"`
	} `json:"data"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// Query returns the first sample of an instant query
func (c *Client) Query(ctx context.Context, query string) (float64, error) {
	samples, err := c.QueryVector(ctx, query)
	if err != nil {
		return 0, err
	}
	for _, v := range samples {
		return v, nil
	}
	return 0, fmt.Errorf("no data returned for query: %s", query)
}

// QueryVector returns every sample of an instant query keyed by its instance label
func (c *Client) QueryVector(ctx context.Context, query string) (map[string]float64, error) {
	reqURL := fmt.Sprintf("%s/api/v1/query?query=%s", c.prometheusURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("prometheus returned status %d: %s", resp.StatusCode, string(body))
	}

	var result prometheusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("JSON decode failed: %w", err)
	}

	// Check for Prometheus error response
	if result.Status != "success" {
		return nil, fmt.Errorf("prometheus error: %s (%s)", result.Error, result.ErrorType)
	}

	samples := make(map[string]float64, len(result.Data.Result))
	for i, r := range result.Data.Result {
		v, err := sampleValue(r.Value)
		if err != nil {
			return nil, err
		}
		key := r.Metric["instance"]
		if key == "" {
			key = fmt.Sprintf("#%d", i)
		}
		samples[key] = v
	}

	c.log.Debug("Prometheus query", zap.String("query", query), zap.Int("samples", len(samples)))
	return samples, nil
}

// sampleValue handles both [timestamp, "value"] pairs and bare numbers
func sampleValue(value interface{}) (float64, error) {
	if pair, ok := value.([]interface{}); ok {
		if len(pair) < 2 {
			return 0, fmt.Errorf("unexpected value array length: %d", len(pair))
		}
		value = pair[1]
	}
	v, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("unexpected value format: %T (%v)", value, value)
	}
	return v, nil
}

// Ready checks the server's readiness endpoint
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.prometheusURL+"/-/ready", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prometheus not ready: status %d", resp.StatusCode)
	}
	return nil
}
