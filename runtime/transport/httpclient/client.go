// Package httpclient implements the transport.Transport interface over the
// platform's JSON HTTP API. Outbound sends are rate limited and transient
// failures are retried; history fetches go through an optional page cache.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/telemetry"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/transport"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/transport/cache"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/transport/retry"
)

const (
	sendPath    = "/api/agent/messages"
	historyPath = "/api/agent/messages/history"
	handoffPath = "/api/agent/handoffs"
)

type (
	// Option configures the HTTP transport client.
	Option func(*Client)

	// Client implements transport.Transport over JSON HTTP.
	Client struct {
		endpoint string
		http     *http.Client
		headers  http.Header

		limiter *rate.Limiter
		retry   retry.Config

		cache    cache.Cache
		cacheTTL time.Duration

		logger telemetry.Logger
	}
)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// WithAPIKey configures the client to send an Authorization Bearer token.
func WithAPIKey(key string) Option {
	return WithHeader("Authorization", "Bearer "+key)
}

// WithRetryConfig overrides the retry configuration for transient failures.
func WithRetryConfig(cfg retry.Config) Option {
	return func(cl *Client) {
		cl.retry = cfg
	}
}

// WithRateLimit caps outbound sends at the given requests-per-second with the
// given burst. Zero or negative rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHistoryCache caches history pages in c for the given TTL. Sends for a
// participant invalidate that participant's cached pages.
func WithHistoryCache(c cache.Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger telemetry.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New constructs a Client for the platform API rooted at endpoint (for
// example, "https://api.example.com").
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("httpclient: endpoint is required")
	}
	cl := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
		retry:    retry.DefaultConfig(),
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: 30 * time.Second}
	}
	return cl, nil
}

// Ensure Client implements transport.Transport.
var _ transport.Transport = (*Client)(nil)

// SendMessage delivers an outbound message. Missing request IDs are filled so
// the backend can always correlate a response with its message.
func (c *Client) SendMessage(ctx context.Context, req *messaging.SendRequest) error {
	return c.send(ctx, sendPath, req)
}

// SendHandoff transfers the conversation to the workflow type named in req.
func (c *Client) SendHandoff(ctx context.Context, req *messaging.SendRequest) error {
	return c.send(ctx, handoffPath, req)
}

func (c *Client) send(ctx context.Context, path string, req *messaging.SendRequest) error {
	if req == nil {
		return fmt.Errorf("httpclient: send request is required")
	}
	out := *req
	if out.RequestID == "" {
		out.RequestID = uuid.NewString()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.post(ctx, path, &out, nil)
	})
	if err != nil {
		return err
	}

	if c.cache != nil {
		prefix := cache.KeyPrefix(out.TenantID, out.WorkflowID, out.ParticipantID)
		if err := c.cache.Invalidate(ctx, prefix); err != nil {
			c.logger.Warn(ctx, "history cache invalidation failed", "prefix", prefix, "err", err)
		}
	}
	return nil
}

// GetHistory fetches one page of prior messages, consulting the page cache
// first when one is configured.
func (c *Client) GetHistory(ctx context.Context, query *messaging.HistoryQuery) ([]*messaging.DbMessage, error) {
	if query == nil {
		return nil, fmt.Errorf("httpclient: history query is required")
	}

	var key string
	if c.cache != nil {
		key = cache.Key(query)
		page, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn(ctx, "history cache read failed", "key", key, "err", err)
		} else if page != nil {
			return page, nil
		}
	}

	var page []*messaging.DbMessage
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		page = nil
		return c.post(ctx, historyPath, query, &page)
	})
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = []*messaging.DbMessage{}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, page, c.cacheTTL); err != nil {
			c.logger.Warn(ctx, "history cache write failed", "key", key, "err", err)
		}
	}
	return page, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
