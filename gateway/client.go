package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/retry"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ironbucket/resultgate/manifest"
	"github.com/ironbucket/resultgate/metrics"
	"github.com/ironbucket/resultgate/types"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxAttempts    = 3

	// RequestIDHeader carries the id shared by every attempt of one logical
	// request, so the gateway can deduplicate retried writes.
	RequestIDHeader = "X-Request-ID"

	// MaxResponseBytes bounds how much of a response body is read.
	MaxResponseBytes = 10 * 1024 * 1024
)

// DefaultBackoff is the retry strategy used when Config.Backoff is nil.
var DefaultBackoff retry.Strategy = &retry.ExponentialStrategy{
	Min:       500 * time.Millisecond,
	Max:       10 * time.Second,
	MaxJitter: 250 * time.Millisecond,
}

// Config configures a Client.
type Config struct {
	Identity Identity
	// Timeout bounds each attempt.
	Timeout     time.Duration
	MaxAttempts int
	Backoff     retry.Strategy
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
	Log        log.Logger
}

// Client talks to the storage gateway. It never reaches the object store
// directly.
type Client struct {
	identity    Identity
	timeout     time.Duration
	maxAttempts int
	backoff     retry.Strategy
	http        *http.Client
	log         log.Logger
}

// UploadRequest is one logical PUT. It lives only for the duration of Upload.
type UploadRequest struct {
	URL         string
	ContentType string
	Identity    Identity
	Body        []byte
	RequestID   string
}

// UploadResult describes the outcome of Upload.
type UploadResult struct {
	Success    bool
	HTTPStatus int
	ObjectKey  string
	Attempts   int
	RequestID  string
}

// FetchResult describes the outcome of Fetch. Found is false on 404.
// TooLarge is set when the object exceeded MaxResponseBytes; Body then holds
// only the first MaxResponseBytes.
type FetchResult struct {
	Found      bool
	TooLarge   bool
	HTTPStatus int
	Body       []byte
	Attempts   int
	RequestID  string
}

// NewClient builds a Client. A missing identity is an EnvironmentError.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Identity == nil {
		return nil, types.NewEnvironmentError(errors.New("gateway identity is required"))
	}
	c := &Client{
		identity:    cfg.Identity,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		http:        cfg.HTTPClient,
		log:         cfg.Log,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.backoff == nil {
		c.backoff = DefaultBackoff
	}
	if c.log == nil {
		c.log = log.New()
	}
	if c.http == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if ti, ok := cfg.Identity.(TransportIdentity); ok {
			base.TLSClientConfig = ti.TLSConfig()
		}
		c.http = &http.Client{Transport: otelhttp.NewTransport(base)}
	}
	return c, nil
}

// Upload PUTs the canonical encoding of m to dest. Transport errors, 5xx and
// 429 are retried with the same request id; any other non-2xx status fails
// at once.
func (c *Client) Upload(ctx context.Context, m *types.Manifest, dest Destination) (*UploadResult, error) {
	objectURL, err := dest.ObjectURL()
	if err != nil {
		return nil, types.NewEnvironmentError(err)
	}
	body, err := manifest.Encode(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode manifest")
	}

	req := &UploadRequest{
		URL:         objectURL,
		ContentType: manifest.ContentType,
		Identity:    c.identity,
		Body:        body,
		RequestID:   uuid.New().String(),
	}
	c.log.Info("Uploading manifest", "url", req.URL, "bytes", len(body), "requestID", req.RequestID)

	resp, attempts, err := c.do(ctx, http.MethodPut, req)
	result := &UploadResult{
		ObjectKey: dest.ObjectKey(),
		Attempts:  attempts,
		RequestID: req.RequestID,
	}
	if resp != nil {
		result.HTTPStatus = resp.status
	}
	if err != nil {
		return result, err
	}
	if !successful(resp.status) {
		return result, &types.TransportFailure{
			Method:     http.MethodPut,
			URL:        req.URL,
			Attempts:   attempts,
			HTTPStatus: resp.status,
			Err:        errors.Errorf("gateway rejected upload: %s", snippet(resp.body)),
		}
	}

	result.Success = true
	c.log.Info("Manifest uploaded", "key", result.ObjectKey, "status", resp.status, "attempts", attempts)
	return result, nil
}

// Fetch GETs the object at dest through the same identity and retry policy
// as Upload.
func (c *Client) Fetch(ctx context.Context, dest Destination) (*FetchResult, error) {
	objectURL, err := dest.ObjectURL()
	if err != nil {
		return nil, types.NewEnvironmentError(err)
	}
	req := &UploadRequest{URL: objectURL, Identity: c.identity, RequestID: uuid.New().String()}
	c.log.Info("Fetching manifest", "url", req.URL, "requestID", req.RequestID)

	resp, attempts, err := c.do(ctx, http.MethodGet, req)
	result := &FetchResult{Attempts: attempts, RequestID: req.RequestID}
	if resp != nil {
		result.HTTPStatus = resp.status
	}
	if err != nil {
		return result, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return result, nil
	case !successful(resp.status):
		return result, &types.TransportFailure{
			Method:     http.MethodGet,
			URL:        req.URL,
			Attempts:   attempts,
			HTTPStatus: resp.status,
			Err:        errors.Errorf("gateway rejected fetch: %s", snippet(resp.body)),
		}
	}
	result.Found = true
	result.Body = resp.body
	if resp.truncated {
		result.TooLarge = true
		c.log.Error("Gateway response exceeded size limit", "url", req.URL, "limit", MaxResponseBytes)
	}
	return result, nil
}

type response struct {
	status    int
	body      []byte
	truncated bool
}

// do runs one logical request. The returned response is the last one
// received; it is nil when no attempt got an answer.
func (c *Client) do(ctx context.Context, method string, req *UploadRequest) (*response, int, error) {
	var (
		attempts  int
		last      *response
		permanent error
	)
	_, err := retry.Do(ctx, c.maxAttempts, c.backoff, func() (*response, error) {
		attempts++
		resp, err := c.attempt(ctx, method, req)
		if err != nil {
			var envErr *types.EnvironmentError
			if errors.As(err, &envErr) {
				permanent = err
				return nil, nil
			}
			metrics.RecordGatewayRequest(method, 0)
			c.log.Warn("Gateway request failed", "method", method, "attempt", attempts, "err", err)
			return nil, err
		}
		last = resp
		metrics.RecordGatewayRequest(method, resp.status)
		if retryable(resp.status) {
			c.log.Warn("Gateway returned retryable status", "method", method, "attempt", attempts, "status", resp.status)
			return nil, errors.Errorf("gateway returned %d %s", resp.status, http.StatusText(resp.status))
		}
		return resp, nil
	})
	if permanent != nil {
		return nil, attempts, permanent
	}
	if err != nil {
		tf := &types.TransportFailure{Method: method, URL: req.URL, Attempts: attempts, Err: err}
		if last != nil {
			tf.HTTPStatus = last.status
		}
		return last, attempts, tf
	}
	return last, attempts, nil
}

func (c *Client) attempt(ctx context.Context, method string, req *UploadRequest) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, types.NewEnvironmentError(errors.Wrap(err, "error creating gateway request"))
	}
	httpReq.Header.Set(RequestIDHeader, req.RequestID)
	httpReq.Header.Set("Accept", manifest.ContentType)
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if err := req.Identity.Attach(httpReq, req.Body); err != nil {
		return nil, types.NewEnvironmentError(errors.Wrap(err, "failed to attach identity"))
	}

	httpRes, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "error in gateway request")
	}
	defer httpRes.Body.Close()

	// One byte past the limit tells a full body from a cut one.
	resB, err := io.ReadAll(io.LimitReader(httpRes.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "error reading gateway response body")
	}
	res := &response{status: httpRes.StatusCode, body: resB}
	if len(resB) > MaxResponseBytes {
		res.body = resB[:MaxResponseBytes]
		res.truncated = true
	}
	return res, nil
}

func successful(status int) bool {
	return status >= 200 && status < 300
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func snippet(body []byte) string {
	const max = 200
	s := string(bytes.TrimSpace(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return fmt.Sprintf("%q", s)
}
