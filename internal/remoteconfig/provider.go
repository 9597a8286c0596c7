// Package remoteconfig loads policy configuration from a remote endpoint.
//
// Loading fails open: when the endpoint is unreachable or returns garbage the
// provider keeps serving the last known configuration.
package remoteconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

const maxBodyBytes = 1 << 20

// Provider serves the current policy configuration
type Provider struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	current models.Config
	watch   []func(models.Config)
	mu      sync.RWMutex
}

// NewProvider creates a provider starting from defaults. An empty url disables remote loading.
func NewProvider(url string, timeout time.Duration, defaults models.Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		current: defaults,
	}
}

// Current returns a copy of the configuration in effect
func (p *Provider) Current() models.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Set replaces the configuration in effect and notifies watchers
func (p *Provider) Set(cfg models.Config) {
	p.mu.Lock()
	p.current = cfg
	watch := append(([]func(models.Config))(nil), p.watch...)
	p.mu.Unlock()

	for _, fn := range watch {
		fn(cfg)
	}
}

// OnChange registers fn to be called with every configuration applied by Set or Load
func (p *Provider) OnChange(fn func(models.Config)) {
	p.mu.Lock()
	p.watch = append(p.watch, fn)
	p.mu.Unlock()
}

// Load fetches the remote configuration and applies the fields it contains.
// It returns true even when the fetch fails; the error is only logged, and
// only when debug mode is on.
func (p *Provider) Load(ctx context.Context) bool {
	if p.url == "" {
		return true
	}

	cfg, err := p.fetch(ctx)
	if err != nil {
		if p.Current().DebugMode {
			p.logger.DebugContext(ctx, "remote config unavailable, keeping last known config", "url", p.url, "error", err)
		}
		return true
	}

	p.Set(cfg)
	p.logger.DebugContext(ctx, "remote config applied",
		"enabled", cfg.Enabled,
		"max_messages", cfg.MaxMessagesPerSession,
		"display_interval_ms", cfg.DisplayInterval)
	return true
}

func (p *Provider) fetch(ctx context.Context) (models.Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return models.Config{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Config{}, fmt.Errorf("get config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Config{}, fmt.Errorf("get config: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Config{}, fmt.Errorf("read config: %w", err)
	}

	// Absent fields keep their current value.
	cfg := p.Current()
	if err := json.Unmarshal(body, &cfg); err != nil {
		return models.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Run reloads the configuration every interval until ctx is done
func (p *Provider) Run(ctx context.Context, interval time.Duration) {
	if p.url == "" || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Load(ctx)
		}
	}
}
