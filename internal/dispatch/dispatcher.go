// Package dispatch implements C5: executing one HTTP request against an
// endpoint with SSRF protection, per-tenant HMAC signing, a bounded
// deadline, and structured outcome capture. It holds no persistent state and
// never retries — retry is the scheduler tick's job, driven by backoff in
// the algebra.
package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/weskerllc/cronicorn/internal/domain"
	"github.com/weskerllc/cronicorn/internal/requestid"
	"github.com/weskerllc/cronicorn/internal/signing"
	"github.com/weskerllc/cronicorn/internal/ssrf"
)

// KeyLookup resolves a tenant's signing key. A nil key with a nil error
// means "no key registered" (dispatch proceeds unsigned); a non-nil error
// also proceeds unsigned, per the fail-open policy in §4.4 step 2.
type KeyLookup func(ctx context.Context, tenantID string) ([]byte, error)

// Outcome is the structured result of one dispatch, independent of any
// store — the scheduler tick turns this into a Run update.
type Outcome struct {
	Status       domain.RunStatus
	StatusCode   int
	DurationMs   int64
	ErrorMessage string
	ResponseBody *domain.JSONValue
}

// Dispatcher executes endpoint requests.
type Dispatcher struct {
	client    *http.Client
	validator *ssrf.Validator
	keyLookup KeyLookup
	logger    *slog.Logger
}

// New builds a Dispatcher. keyLookup may be nil, in which case requests are
// always sent unsigned.
func New(validator *ssrf.Validator, keyLookup KeyLookup, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		validator: validator,
		keyLookup: keyLookup,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Execute runs the ordered steps of §4.4 against one endpoint and tenant.
// DurationMs is measured from request-send to headers-received only — SSRF
// validation, body marshal, and HMAC signing all happen before the clock
// starts, so none of that overhead leaks into the reported latency.
func (d *Dispatcher) Execute(ctx context.Context, e *domain.Endpoint, tenantID string) Outcome {
	zero := time.Time{}

	res, err := d.validator.Validate(ctx, e.URL)
	if err != nil {
		return fail(zero, fmt.Sprintf("parse url: %v", err))
	}
	if !res.Allowed {
		return fail(zero, fmt.Sprintf("url rejected: %s", res.Reason))
	}

	var bodyBytes []byte
	if e.Body != nil && e.Method != domain.MethodGet && e.Method != "HEAD" {
		bodyBytes, err = json.Marshal(e.Body)
		if err != nil {
			return fail(zero, fmt.Sprintf("marshal body: %v", err))
		}
	}

	timeoutMs := e.TimeoutMs
	if timeoutMs < domain.MinTimeoutMs {
		timeoutMs = domain.DefaultTimeoutMs
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	var bodyReader io.Reader
	if len(bodyBytes) > 0 {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(reqCtx, string(e.Method), e.URL, bodyReader)
	if err != nil {
		return fail(zero, fmt.Sprintf("build request: %v", err))
	}

	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}
	if len(bodyBytes) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	d.sign(reqCtx, req, tenantID, bodyBytes)

	reqID := requestid.New()
	req.Header.Set("X-Cronicorn-Request-Id", reqID)
	reqCtx = requestid.WithRequestID(reqCtx, reqID)

	d.logger.InfoContext(reqCtx, "dispatching endpoint", "endpoint_id", e.ID, "method", e.Method, "url", e.URL)

	start := time.Now()
	resp, err := d.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		d.logger.WarnContext(reqCtx, "dispatch failed", "endpoint_id", e.ID, "error", err, "duration", duration)
		return Outcome{Status: domain.RunStatusFailed, DurationMs: duration.Milliseconds(), ErrorMessage: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody := d.captureResponseBody(resp, e.MaxResponseSizeKb)

	d.logger.InfoContext(reqCtx, "dispatch complete", "endpoint_id", e.ID, "status_code", resp.StatusCode, "duration", duration)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Outcome{Status: domain.RunStatusSuccess, StatusCode: resp.StatusCode, DurationMs: duration.Milliseconds(), ResponseBody: responseBody}
	}
	return Outcome{
		Status:       domain.RunStatusFailed,
		StatusCode:   resp.StatusCode,
		DurationMs:   duration.Milliseconds(),
		ErrorMessage: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
		ResponseBody: responseBody,
	}
}

func (d *Dispatcher) sign(ctx context.Context, req *http.Request, tenantID string, body []byte) {
	if d.keyLookup == nil {
		return
	}
	key, err := d.keyLookup(ctx, tenantID)
	if err != nil {
		d.logger.WarnContext(ctx, "signing key lookup failed, proceeding unsigned", "tenant_id", tenantID, "error", err)
		return
	}
	if key == nil {
		return
	}
	ts, sig := signing.Sign(key, time.Now().Unix(), body)
	req.Header.Set(signing.TimestampHeader, ts)
	req.Header.Set(signing.SignatureHeader, sig)
}

func (d *Dispatcher) captureResponseBody(resp *http.Response, maxKb int) *domain.JSONValue {
	if maxKb <= 0 {
		maxKb = domain.DefaultMaxResponseSizeKb
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
		return nil
	}
	limit := int64(maxKb)*1024 + 1
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil || int64(len(raw)) > limit-1 {
		return nil
	}
	v, err := domain.ParseJSONValue(raw)
	if err != nil {
		return nil
	}
	return &v
}

// fail builds a failed Outcome. A zero start means the failure happened
// before the request was ever sent (SSRF rejection, marshal error, bad
// request), so DurationMs is reported as 0 rather than time since the Unix
// epoch's zero value.
func fail(start time.Time, msg string) Outcome {
	var durationMs int64
	if !start.IsZero() {
		durationMs = time.Since(start).Milliseconds()
	}
	return Outcome{Status: domain.RunStatusFailed, DurationMs: durationMs, ErrorMessage: msg}
}
