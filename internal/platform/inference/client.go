// Package inference is the HTTP client for the external ML inference service.
//
// Every call makes exactly one attempt. Transport errors, non-2xx statuses and
// malformed bodies are logged and reported as an unavailable result rather
// than an error, so callers always choose an explicit fallback.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/telemetry"
)

// Capability selects a prediction endpoint under /predict.
type Capability string

const (
	CapabilityDenial       Capability = "denial"
	CapabilityPaymentDelay Capability = "payment-delay"
	CapabilityNoShow       Capability = "no-show"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// Outcome is the tagged result of a prediction call. When Available is false
// Prediction and Probability are zero and carry no meaning.
type Outcome struct {
	Available   bool
	Prediction  int
	Probability float64
}

// Unavailable is the outcome for any failed call.
func Unavailable() Outcome {
	return Outcome{}
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records call latency and outcome.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
}

func NewClient(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger.With().Str("component", "inference").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// predictResponse keeps the fields loosely typed: a numeric string or a
// boolean is coerced, and any other value reads as zero.
type predictResponse struct {
	Prediction  any `json:"prediction"`
	Probability any `json:"probability"`
}

func coerceFloat(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

func coerceInt(v any) int {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	f := coerceFloat(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}

// Predict posts payload to /predict/{capability}. Missing response fields
// default to zero.
func (c *Client) Predict(ctx context.Context, capability Capability, payload map[string]any) Outcome {
	path := "predict/" + string(capability)

	raw, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return Unavailable()
	}

	var resp predictResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		c.fail(path, fmt.Errorf("decode response: %w", err))
		return Unavailable()
	}

	return Outcome{
		Available:   true,
		Prediction:  coerceInt(resp.Prediction),
		Probability: coerceFloat(resp.Probability),
	}
}

// PredictWithInsights posts payload to /predict-with-insights/{domain} and
// returns the response object untouched. ok is false when the call failed or
// the body was not a JSON object.
func (c *Client) PredictWithInsights(ctx context.Context, domain string, payload map[string]any) (map[string]any, bool) {
	return c.object(ctx, http.MethodPost, "predict-with-insights/"+domain, payload)
}

// Stats fetches /stats/{kind}, e.g. "claims".
func (c *Client) Stats(ctx context.Context, kind string) (map[string]any, bool) {
	return c.object(ctx, http.MethodGet, "stats/"+kind, nil)
}

func (c *Client) object(ctx context.Context, method, path string, body any) (map[string]any, bool) {
	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		if err == nil {
			err = errors.New("response is not a JSON object")
		}
		c.fail(path, fmt.Errorf("decode response: %w", err))
		return nil, false
	}
	return out, true
}

// do performs one request and returns the raw 2xx body. Failures are logged
// and counted here, so callers only pick a fallback.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	start := time.Now()
	raw, err := c.roundTrip(ctx, method, path, body)
	outcome := "ok"
	if err != nil {
		outcome = "unavailable"
		c.fail(path, err)
	}
	c.metrics.ObserveInference(path, outcome, time.Since(start))
	return raw, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return raw, nil
}

func (c *Client) fail(path string, err error) {
	c.logger.Warn().Err(err).Str("path", path).Msg("inference service unavailable")
}
