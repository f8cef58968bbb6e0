// Package notify reports scheduled scan outcomes to an ntfy topic.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/config"
	"github.com/dgnsrekt/optionflow/internal/service"
)

const (
	sendTimeout     = 30 * time.Second
	failurePriority = "high"
)

// Notifier announces the outcome of a scheduled scan.
type Notifier interface {
	SendSuccess(ctx context.Context, report *service.Report, date string, duration time.Duration) error
	SendFailure(ctx context.Context, report *service.Report, date string, duration time.Duration, err error) error
}

// notification is one ntfy publish.
type notification struct {
	title    string
	body     string
	tags     []string
	priority string
}

// Client publishes to ntfy over HTTP.
type Client struct {
	httpClient *http.Client
	cfg        config.NotifyConfig
	endpoint   string
	logger     *zap.Logger
}

func NewClient(cfg config.NotifyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: sendTimeout},
		cfg:        cfg,
		endpoint:   strings.TrimSuffix(cfg.Server, "/") + "/" + cfg.Topic,
		logger:     logger,
	}
}

func (c *Client) SendSuccess(ctx context.Context, report *service.Report, date string, duration time.Duration) error {
	return c.publish(ctx, notification{
		title:    fmt.Sprintf("Flow Scan Complete: %s", date),
		body:     FormatSuccessMessage(report, duration),
		tags:     c.tags("white_check_mark"),
		priority: c.cfg.Priority,
	})
}

// SendFailure always publishes at high priority.
func (c *Client) SendFailure(ctx context.Context, report *service.Report, date string, duration time.Duration, err error) error {
	return c.publish(ctx, notification{
		title:    fmt.Sprintf("Flow Scan Failed: %s", date),
		body:     FormatFailureMessage(report, duration, err),
		tags:     c.tags("x"),
		priority: failurePriority,
	})
}

func (c *Client) tags(status string) []string {
	var tags []string
	for _, t := range strings.Split(c.cfg.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return append(tags, status)
}

func (c *Client) publish(ctx context.Context, n notification) error {
	if !c.cfg.Enabled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(n.body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Title", n.title)
	req.Header.Set("Priority", n.priority)
	req.Header.Set("Tags", strings.Join(n.tags, ","))
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("topic", c.cfg.Topic),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", n.title))
	return nil
}

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (NoopNotifier) SendSuccess(context.Context, *service.Report, string, time.Duration) error {
	return nil
}

func (NoopNotifier) SendFailure(context.Context, *service.Report, string, time.Duration, error) error {
	return nil
}

// New returns a Client when enabled and a NoopNotifier otherwise.
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
