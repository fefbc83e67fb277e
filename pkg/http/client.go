// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"rebuybot/pkg/telemetry"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer signs a request. payload is the raw query string for GET and the JSON body for POST.
type Signer interface {
	SignRequest(req *http.Request, payload []byte) error
}

// SignerFunc adapts a function to Signer
type SignerFunc func(req *http.Request, payload []byte) error

// SignRequest calls f
func (f SignerFunc) SignRequest(req *http.Request, payload []byte) error { return f(req, payload) }

type result struct {
	status int
	body   []byte
}

// Client is a wrapper around http.Client with resilience.
// Reads are retried and guarded by the breaker; writes only pass the breaker
// since a retried order could be placed twice.
type Client struct {
	client  *http.Client
	baseURL string
	signer  Signer
	limiter *rate.Limiter

	readPipeline  failsafe.Executor[*result]
	writePipeline failsafe.Executor[*result]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// Option customizes a Client
type Option func(*Client)

// WithRateLimit paces every attempt through a token bucket
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTransport replaces the underlying round tripper
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.client.Transport = rt }
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(baseURL string, timeout time.Duration, signer Signer, opts ...Option) *Client {
	retryPolicy := retrypolicy.NewBuilder[*result]().
		HandleIf(func(res *result, err error) bool {
			// Retry on network errors or 5xx server errors
			if err != nil {
				return true
			}
			return res.status >= 500 || res.status == http.StatusTooManyRequests
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		ReturnLastFailure().
		Build()

	breaker := circuitbreaker.NewBuilder[*result]().
		HandleIf(func(res *result, err error) bool {
			if err != nil {
				return true
			}
			return res.status >= 500
		}).
		WithFailureThresholdRatio(5, 10). // 5 failures out of 10
		WithDelay(10 * time.Second).
		Build()

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	c := &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL:       baseURL,
		signer:        signer,
		readPipeline:  failsafe.With[*result](retryPolicy, breaker),
		writePipeline: failsafe.With[*result](breaker),
		tracer:        tracer,
		reqCounter:    reqCounter,
		errCounter:    errCounter,
		latencyHist:   latencyHist,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get sends a GET request; params are encoded in sorted key order
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, c.readPipeline, http.MethodGet, path, params.Encode(), nil)
}

// Post sends a JSON POST request
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	return c.do(ctx, c.writePipeline, http.MethodPost, path, "", payload)
}

func (c *Client) do(ctx context.Context, pipeline failsafe.Executor[*result], method, path, rawQuery string, body []byte) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	attempt := func() (*result, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.URL.RawQuery = rawQuery
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if c.signer != nil {
			payload := body
			if method == http.MethodGet {
				payload = []byte(rawQuery)
			}
			if err := c.signer.SignRequest(req, payload); err != nil {
				return nil, fmt.Errorf("failed to sign request: %w", err)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return &result{status: resp.StatusCode, body: data}, nil
	}

	res, err := pipeline.WithContext(ctx).Get(attempt)

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.String("error", "pipeline_failed"),
		))
		return nil, fmt.Errorf("request failed: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", res.status))

	if res.status >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.Int("status", res.status),
		))
		return nil, &APIError{
			StatusCode: res.status,
			Body:       res.body,
		}
	}

	return res.body, nil
}
