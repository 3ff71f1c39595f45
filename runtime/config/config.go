// Package config loads runtime settings from the environment and turns them
// into options for the transport client and the Temporal engine adapter.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/transport/httpclient"
)

// Settings holds the environment-driven configuration of the dispatch
// runtime. All values come from the process environment; secrets are never
// written back out.
type Settings struct {
	// ServerURL is the base URL of the platform backend API.
	ServerURL string `env:"APP_SERVER_URL"`

	// APIKey authenticates transport calls against the backend.
	APIKey string `env:"APP_SERVER_API_KEY"`

	// TenantID is this process's default tenant, used when composing
	// workflow identifiers.
	TenantID string `env:"TENANT_ID"`

	// TaskQueue is the Temporal task queue workers poll.
	TaskQueue string `env:"TASK_QUEUE" envDefault:"agent-dispatch"`

	// TemporalHostPort addresses the Temporal frontend.
	TemporalHostPort string `env:"TEMPORAL_HOST_PORT" envDefault:"localhost:7233"`

	// TemporalNamespace selects the Temporal namespace.
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE" envDefault:"default"`

	// HistoryCacheTTL bounds how long fetched history pages stay cached.
	// Zero disables the cache.
	HistoryCacheTTL time.Duration `env:"HISTORY_CACHE_TTL" envDefault:"60s"`

	// RedisURL enables the shared Redis history cache when set. Empty keeps
	// the in-process cache.
	RedisURL string `env:"REDIS_URL"`

	// SendRatePerSecond caps outbound sends. Zero disables rate limiting.
	SendRatePerSecond float64 `env:"SEND_RATE_PER_SECOND" envDefault:"10"`

	// SendBurst is the rate limiter burst size.
	SendBurst int `env:"SEND_BURST" envDefault:"5"`
}

// Load parses Settings from the process environment.
func Load() (*Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &s, nil
}

// Validate checks the settings required to reach the backend.
func (s *Settings) Validate() error {
	if s.ServerURL == "" {
		return fmt.Errorf("config: APP_SERVER_URL is required")
	}
	if s.APIKey == "" {
		return fmt.Errorf("config: APP_SERVER_API_KEY is required")
	}
	return nil
}

// TransportOptions derives httpclient options from the settings. Callers
// append their own (logger, cache) before constructing the client.
func (s *Settings) TransportOptions() []httpclient.Option {
	opts := []httpclient.Option{httpclient.WithAPIKey(s.APIKey)}
	if s.SendRatePerSecond > 0 {
		opts = append(opts, httpclient.WithRateLimit(s.SendRatePerSecond, s.SendBurst))
	}
	return opts
}

// WorkflowID composes the canonical workflow identifier for a workflow type
// under this process's tenant. The tenant prefix is load-bearing: the
// dispatch pipeline derives the workflow's tenant from it.
func (s *Settings) WorkflowID(rest string) string {
	return s.TenantID + ":" + rest
}
