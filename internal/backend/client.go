package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Routes exposed by the analysis backend.
const (
	RouteUpload      = "/upload"
	RouteVisualize   = "/visualize"
	RouteQuery       = "/query"
	RouteConvertCode = "/convert_code"
	RouteValidate    = "/validate"
	RouteRoot        = "/"
)

// DefaultBaseURL is where the backend listens in a local setup.
const DefaultBaseURL = "http://localhost:8000"

type Client struct {
	httpClient       *http.Client
	baseURL          string
	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	logger           *zap.Logger
}

// NewDefaultClient returns a client for baseURL with a 60s timeout and no retries.
func NewDefaultClient(baseURL string) *Client {
	return NewClient(baseURL, 60*time.Second, 1, 500*time.Millisecond, 4*time.Second)
}

// NewClient allows customizing HTTP timeout and retry/backoff behavior.
// retryMax counts total attempts, so 1 disables retries.
func NewClient(baseURL string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	if retryMax <= 0 {
		retryMax = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}
	return &Client{
		httpClient:       &http.Client{Timeout: httpTimeout},
		baseURL:          strings.TrimRight(baseURL, "/"),
		retryMaxAttempts: retryMax,
		retryBaseDelay:   baseDelay,
		retryMaxDelay:    maxDelay,
		logger:           zap.NewNop(),
	}
}

// WithLogger sets the logger used for request tracing.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// BaseURL returns the backend origin the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Upload sends the file as the multipart field "file".
func (c *Client) Upload(ctx context.Context, filename string, content []byte) (*UploadResponse, error) {
	if filename == "" {
		return nil, errors.New("filename cannot be empty")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	var out UploadResponse
	if err := c.do(ctx, http.MethodPost, RouteUpload, mw.FormDataContentType(), buf.Bytes(), &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, &MalformedResponseError{Route: RouteUpload, Err: errors.New("missing session_id")}
	}
	return &out, nil
}

// Query executes the natural-language query against the session's dataset.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.postJSON(ctx, RouteQuery, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConvertCode asks the backend for Python and SQL renditions of the query.
func (c *Client) ConvertCode(ctx context.Context, req QueryRequest) (*CodeResponse, error) {
	var out CodeResponse
	if err := c.postJSON(ctx, RouteConvertCode, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate asks the backend to check the query's answer.
func (c *Client) Validate(ctx context.Context, req QueryRequest) (*ValidationResponse, error) {
	var out ValidationResponse
	if err := c.postJSON(ctx, RouteValidate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Visualize requests charts for the session. An empty query asks for the
// dataset-level charts produced right after upload.
func (c *Client) Visualize(ctx context.Context, req VisualizeRequest) (*VisualizeResponse, error) {
	var out VisualizeResponse
	if err := c.postJSON(ctx, RouteVisualize, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping calls the backend root route and returns its welcome message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, RouteRoot, "", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) postJSON(ctx context.Context, route string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, route, "application/json", payload, out)
}

// do issues one logical call, retrying 429/5xx and transient network errors
// up to retryMaxAttempts.
func (c *Client) do(ctx context.Context, method, route, contentType string, payload []byte, out any) error {
	endpoint := c.baseURL + route
	maxAttempts := c.retryMaxAttempts
	backoff := c.retryBaseDelay
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if contentType != "" {
			httpReq.Header.Set("Content-Type", contentType)
		}
		httpReq.Header.Set("Accept", "application/json")
		reqID := uuid.NewString()
		httpReq.Header.Set("X-Request-Id", reqID)

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isRetryableNetErr(err) && attempt < maxAttempts {
				lastErr = err
				c.logger.Debug("retrying after network error", zap.String("route", route), zap.Int("attempt", attempt), zap.Error(err))
				if err := sleepCtx(ctx, withJitter(backoff)); err != nil {
					return err
				}
				backoff *= 2
				continue
			}
			return &UnreachableError{Host: c.baseURL, Err: err}
		}
		retry := false
		var wait time.Duration
		func() {
			defer resp.Body.Close()
			c.logger.Debug("backend call",
				zap.String("method", method),
				zap.String("route", route),
				zap.Int("status", resp.StatusCode),
				zap.String("request_id", reqID),
				zap.Duration("elapsed", time.Since(start)),
			)
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				apiErr := decodeAPIError(resp, route)
				if apiErr.RequestID == "" {
					apiErr.RequestID = reqID
				}
				if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < maxAttempts {
					if ra := resp.Header.Get("Retry-After"); ra != "" {
						if secs, err := parseRetryAfterSeconds(ra); err == nil && secs > 0 {
							lastErr = &RateLimitError{APIError: apiErr, RetryAfter: time.Duration(secs) * time.Second}
							wait = time.Duration(secs) * time.Second
							retry = true
							return
						}
					}
					lastErr = apiErr
					sleep := withJitter(backoff)
					if c.retryMaxDelay > 0 && sleep > c.retryMaxDelay {
						sleep = c.retryMaxDelay
					}
					wait = sleep
					backoff *= 2
					retry = true
					return
				}
				lastErr = classifyAPIError(apiErr, resp)
				return
			}
			if out == nil {
				lastErr = nil
				return
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				lastErr = &MalformedResponseError{Route: route, RequestID: reqID, Err: err}
				return
			}
			lastErr = nil
		}()
		if lastErr == nil {
			return nil
		}
		if retry {
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}
		break
	}
	return lastErr
}

// decodeAPIError reads a failure body. The backend reports {"error": "..."};
// framework-level failures use {"detail": "..."} or {"message": "..."}.
func decodeAPIError(resp *http.Response, route string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	apiErr := &APIError{StatusCode: resp.StatusCode, Route: route, Raw: raw}
	apiErr.RequestID = extractRequestID(resp)
	switch v := raw["error"].(type) {
	case string:
		apiErr.Message = v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			apiErr.Message = msg
		}
	}
	if apiErr.Message == "" {
		if msg, ok := raw["detail"].(string); ok {
			apiErr.Message = msg
		} else if msg, ok := raw["message"].(string); ok {
			apiErr.Message = msg
		}
	}
	return apiErr
}

// classifyAPIError maps a generic APIError to typed errors for better UX.
func classifyAPIError(apiErr *APIError, resp *http.Response) error {
	switch sc := apiErr.StatusCode; {
	case sc == http.StatusBadRequest || sc == http.StatusUnprocessableEntity:
		return &BadRequestError{APIError: apiErr}
	case sc == http.StatusNotFound:
		return &SessionNotFoundError{APIError: apiErr}
	case sc == http.StatusTooManyRequests:
		var ra time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := parseRetryAfterSeconds(v); err == nil && secs > 0 {
				ra = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{APIError: apiErr, RetryAfter: ra}
	case sc >= 500 && sc <= 599:
		return &ServerError{APIError: apiErr}
	}
	return apiErr
}

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF)
}

// parseRetryAfterSeconds interprets a Retry-After value as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

// extractRequestID pulls a best-effort request ID from common headers.
func extractRequestID(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	for _, k := range []string{"X-Request-Id", "X-Request-ID", "X-Correlation-Id"} {
		if v := resp.Header.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withJitter returns a backoff duration with +/- 20% jitter applied.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	f := 0.8 + rand.Float64()*0.4
	out := time.Duration(float64(d) * f)
	if out <= 0 {
		return d
	}
	return out
}
