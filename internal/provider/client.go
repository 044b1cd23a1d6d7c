package provider

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/geolens/geolens/internal/errors"
	"github.com/geolens/geolens/internal/retry"
	"github.com/geolens/geolens/internal/telemetry"
)

// maxErrorBodyBytes bounds how much of an upstream error payload is read.
const maxErrorBodyBytes = 16 * 1024

// ClientOptions configures the shared send orchestrator.
type ClientOptions struct {
	HTTPClient *http.Client
	Policy     retry.Policy
	Logger     *slog.Logger
}

// Client drives the shared request lifecycle for every adapter: build the
// wire payload, issue the call under the retry policy, map failures into
// the taxonomy, and decode successes.
type Client struct {
	http   *http.Client
	policy retry.Policy
	logger *slog.Logger
}

// NewClient creates a Client, filling in defaults for anything unset.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy.MaxRetries == 0 && policy.BaseDelay == 0 {
		policy = retry.Default()
	}
	return &Client{http: hc, policy: policy, logger: logger}
}

// SendResult carries a successful response plus attempt accounting.
type SendResult struct {
	Response *Response
	Attempts int
}

// Send executes one provider call. Transient failures are retried per the
// policy; the returned error is always a classified AdapterError. On
// failure the result still carries the attempt count.
func (c *Client) Send(ctx context.Context, adapter Adapter, req Request) (*SendResult, error) {
	payload, err := adapter.BuildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp *Response
	attempts, err := c.policy.DoWithCount(ctx, func(ctx context.Context) error {
		var attemptErr error
		resp, attemptErr = c.attempt(ctx, adapter, req, payload)
		return attemptErr
	})
	if attempts > 1 {
		telemetry.RetriesTotal.WithLabelValues(adapter.Name()).Add(float64(attempts - 1))
	}
	if err != nil {
		return &SendResult{Attempts: attempts}, err
	}
	return &SendResult{Response: resp, Attempts: attempts}, nil
}

// attempt issues a single HTTP call and normalizes its outcome. Every
// attempt, success or failure, is logged with latency and identity.
func (c *Client) attempt(ctx context.Context, adapter Adapter, req Request, payload []byte) (*Response, error) {
	start := time.Now()

	resp, err := c.roundTrip(ctx, adapter, payload)
	latency := time.Since(start)
	telemetry.ProviderLatency.WithLabelValues(adapter.Name()).Observe(latency.Seconds())

	if err != nil {
		c.logAttempt(ctx, adapter, req, latency, "", err)
		return nil, err
	}

	parsed, err := adapter.ParseResponse(resp.body, req)
	if err != nil {
		c.logAttempt(ctx, adapter, req, latency, "", err)
		return nil, err
	}

	c.logAttempt(ctx, adapter, req, latency, parsed.RequestID, nil)
	return parsed, nil
}

type wireResult struct {
	body []byte
}

func (c *Client) roundTrip(ctx context.Context, adapter Adapter, payload []byte) (*wireResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, adapter.EndpointURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindAdapter, adapter.Name(), "build http request")
	}
	for k, v := range adapter.Headers() {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperrors.FromTransport(adapter.Name(), err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodyBytes*64))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindConnection, adapter.Name(), "read response body")
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return nil, adapter.ParseError(body, httpResp.StatusCode)
	}

	return &wireResult{body: body}, nil
}

func (c *Client) logAttempt(
	ctx context.Context,
	adapter Adapter,
	req Request,
	latency time.Duration,
	requestID string,
	err error,
) {
	attrs := []any{
		"provider", adapter.Name(),
		"model", req.Model,
		"brand", req.Brand,
		"latency_ms", latency.Milliseconds(),
	}
	if requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if err != nil {
		attrs = append(attrs, "error", err, "error_class", apperrors.Classify(err))
		c.logger.WarnContext(ctx, "provider call failed", attrs...)
		return
	}
	c.logger.InfoContext(ctx, "provider call ok", attrs...)
}
