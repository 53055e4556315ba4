package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reputul/drip/pkg/schema"
)

// WebhookConfig configures HTTPWebhookCaller.
type WebhookConfig struct {
	Timeout         time.Duration
	MaxResponseBody int64
	UserAgent       string
}

const (
	defaultMaxResponseBody = 1 * 1024 * 1024 // 1MB
	defaultWebhookTimeout  = 10 * time.Second
	defaultUserAgent       = "drip-webhook/1"
)

// HTTPWebhookCaller implements WebhookCaller with net/http.
type HTTPWebhookCaller struct {
	config WebhookConfig
	client *http.Client
}

// NewHTTPWebhookCaller creates a caller; zero config fields take defaults.
func NewHTTPWebhookCaller(cfg WebhookConfig) *HTTPWebhookCaller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &HTTPWebhookCaller{
		config: cfg,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after %d redirects", len(via))
				}
				return nil
			},
		},
	}
}

// ValidateURL rejects anything that is not an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "webhook: missing url")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "webhook: invalid url %q", rawURL)
	}
	return nil
}

// CallWebhook sends req and reports the response. A non-2xx status is a
// definitive failure (Success=false, nil error); transport problems are errors.
func (c *HTTPWebhookCaller) CallWebhook(ctx context.Context, req WebhookRequest) (*WebhookResponse, error) {
	if err := ValidateURL(req.URL); err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Payload != nil && method != http.MethodGet && method != http.MethodHead {
		b, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "webhook: failed to marshal payload").WithCause(err)
		}
		body = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "webhook: failed to create request").WithCause(err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "webhook: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "webhook: failed to read response body").WithCause(err)
	}

	var parsed any
	if len(bodyBytes) > 0 {
		if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
			if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
				parsed = string(bodyBytes)
			}
		} else {
			parsed = string(bodyBytes)
		}
	}

	return &WebhookResponse{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       parsed,
		DurationMs: durationMs,
	}, nil
}

var _ WebhookCaller = (*HTTPWebhookCaller)(nil)
