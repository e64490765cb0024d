package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

const maxErrorBody = 4 << 10

type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	RatePerSecond  float64
	Burst          int
}

// Client talks to the back office API. Every failure it returns is an
// AuthError, a TransientSyncError or a PermanentSyncError so the drain loop
// can decide.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	creds   ports.CredentialSource
	limiter *rate.Limiter
	timeout time.Duration
}

var _ ports.RemoteAPI = (*Client)(nil)

func NewClient(cfg Config, creds ports.CredentialSource, httpClient *http.Client) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errs.Validation("sync.base_url", "is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.Validation("sync.base_url", fmt.Sprintf("invalid url %q", raw))
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = int(cfg.RatePerSecond)
		}
	}
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		creds:   creds,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) FetchAssignments(ctx context.Context) (ports.AssignmentsResponse, error) {
	var out ports.AssignmentsResponse
	if err := c.do(ctx, "fetch assignments", http.MethodGet, "/api/assignments/today", nil, &out); err != nil {
		return ports.AssignmentsResponse{}, err
	}
	return out, nil
}

func (c *Client) UploadPhoto(ctx context.Context, upload ports.PhotoUpload) (ports.PhotoUploadResponse, error) {
	var out ports.PhotoUploadResponse
	if err := c.do(ctx, "upload photo", http.MethodPost, "/api/photos", upload, &out); err != nil {
		return ports.PhotoUploadResponse{}, err
	}
	if strings.TrimSpace(out.Ref) == "" {
		return ports.PhotoUploadResponse{}, &errs.PermanentSyncError{Op: "upload photo", StatusCode: http.StatusOK, Err: errors.New("response has no photo ref")}
	}
	return out, nil
}

func (c *Client) CompleteInspection(ctx context.Context, remoteID string, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	path := "/api/inspections/complete"
	if id := strings.TrimSpace(remoteID); id != "" {
		path = "/api/inspections/" + url.PathEscape(id) + "/complete"
	}

	var out ports.CompletionResponse
	if err := c.do(ctx, "complete inspection", http.MethodPost, path, req, &out); err != nil {
		return ports.CompletionResponse{}, err
	}
	if strings.TrimSpace(out.InspectionID) == "" {
		return ports.CompletionResponse{}, &errs.PermanentSyncError{Op: "complete inspection", StatusCode: http.StatusOK, Err: errors.New("response has no inspection id")}
	}
	return out, nil
}

// Ping probes the unauthenticated health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, op string, method string, path string, body any, out any) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &errs.TransientSyncError{Op: op, Err: errs.Wrap(err, "wait for rate limiter")}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &errs.PermanentSyncError{Op: op, Err: errs.Wrap(err, "encode request")}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return &errs.PermanentSyncError{Op: op, Err: errs.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil && path != "/health" {
		token, err := c.creds.Credential(ctx)
		if err != nil {
			return &errs.AuthError{Op: op, Err: errs.Wrap(err, "load credential")}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &errs.TransientSyncError{Op: op, Err: classifyNetwork(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &errs.TransientSyncError{Op: op, StatusCode: resp.StatusCode, Err: errs.Wrap(err, "decode response")}
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(raw))
	var decoded errorBody
	if json.Unmarshal(raw, &decoded) == nil && strings.TrimSpace(decoded.Error) != "" {
		message = decoded.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	cause := errors.New(message)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &errs.AuthError{Op: op, StatusCode: resp.StatusCode, Err: cause}
	}
	if Retryable(resp.StatusCode) {
		return &errs.TransientSyncError{Op: op, StatusCode: resp.StatusCode, Err: cause}
	}
	return &errs.PermanentSyncError{Op: op, StatusCode: resp.StatusCode, Err: cause}
}

// Retryable reports whether a response status is worth another attempt:
// request timeout, rate limiting and server errors.
func Retryable(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func classifyNetwork(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(err, "request timed out")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(err, "request timed out")
	}
	return errs.Wrap(err, "network unreachable")
}
