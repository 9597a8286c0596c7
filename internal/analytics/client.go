// Package analytics delivers display and action events to the analytics endpoint.
//
// Delivery is fire-and-forget: callers never wait, nothing is retried, and a
// failure is logged and dropped.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

const (
	pathMessageDisplayed = "/analytics/message-displayed"
	pathActionClicked    = "/analytics/action-clicked"
)

// MessageDisplayed is the body of a message_displayed event
type MessageDisplayed struct {
	MessageID    string    `json:"messageId"`
	CampaignName string    `json:"campaignName"`
	Timestamp    time.Time `json:"timestamp"`
}

// Tracker receives analytics events
type Tracker interface {
	TrackMessageDisplayed(ctx context.Context, event MessageDisplayed)
	TrackActionClicked(ctx context.Context, action models.Action)
}

// Client posts events to {endpoint}/analytics/*. A client without an endpoint drops everything.
type Client struct {
	endpoint string
	http     *http.Client
	inflight *semaphore.Weighted
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewClient creates an analytics client. maxInFlight bounds concurrent deliveries;
// events arriving while the bound is reached are dropped.
func NewClient(endpoint string, timeout time.Duration, maxInFlight int64, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
		inflight: semaphore.NewWeighted(maxInFlight),
		logger:   logger,
	}
}

func (c *Client) TrackMessageDisplayed(ctx context.Context, event MessageDisplayed) {
	c.send(ctx, pathMessageDisplayed, event)
}

func (c *Client) TrackActionClicked(ctx context.Context, action models.Action) {
	c.send(ctx, pathActionClicked, action)
}

// Wait blocks until every delivery started so far has finished
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) send(ctx context.Context, path string, payload any) {
	if c == nil || c.endpoint == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.WarnContext(ctx, "analytics event not encodable", "path", path, "error", err)
		return
	}

	if !c.inflight.TryAcquire(1) {
		c.logger.WarnContext(ctx, "analytics saturated, dropping event", "path", path)
		return
	}

	// The request that triggered the event may finish before delivery does.
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.inflight.Release(1)

		if err := c.post(ctx, path, body); err != nil {
			c.logger.WarnContext(ctx, "analytics delivery failed", "path", path, "error", err)
		}
	}()
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post event: unexpected status %d", resp.StatusCode)
	}
	return nil
}
