// Package slack posts a message to a Slack incoming webhook for every
// pre-alert workflow that finishes, so dispatch supervisors see failures.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prealert/internal/workflow"
)

const (
	maxNarrationLen = 3000
	httpTimeout     = 10 * time.Second
)

// Notifier sends workflow summaries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
	onlyFailed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// OnlyFailures suppresses messages for completed workflows.
func OnlyFailures() Option {
	return func(n *Notifier) { n.onlyFailed = true }
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	n := &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Send posts a workflow summary to the configured Slack webhook.
func (n *Notifier) Send(ctx context.Context, s *workflow.Summary) error {
	if n.webhookURL == "" {
		return nil
	}
	if n.onlyFailed && s.Instance.Status != workflow.InstanceFailed {
		return nil
	}

	body, err := json.Marshal(buildMessage(s))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "instance_id", s.Instance.ID, "status", s.Instance.Status)
	return nil
}

func buildMessage(s *workflow.Summary) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(s),
			{"type": "divider"},
			fieldsBlock(s),
			{"type": "divider"},
			bodyBlock(s),
			{"type": "divider"},
			contextBlock(s),
		},
	}
}

func headerBlock(s *workflow.Summary) map[string]any {
	text := fmt.Sprintf("%s Pre-Alert Failed", statusEmoji(s))
	if s.Alert != nil {
		text = fmt.Sprintf("%s Pre-Alert: %s", statusEmoji(s), s.Alert.Nature)
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func field(label string, value any) map[string]any {
	return map[string]any{
		"type": "mrkdwn",
		"text": fmt.Sprintf("*%s:* %v", label, value),
	}
}

func fieldsBlock(s *workflow.Summary) map[string]any {
	fields := []map[string]any{
		field("Status", s.Instance.Status),
		field("Duration", fmt.Sprintf("%.1fs", s.Duration)),
	}
	if a := s.Alert; a != nil {
		fields = append(fields,
			field("Location", fmt.Sprintf("%s, %s", a.Address, a.City)),
			field("Coordinates", fmt.Sprintf("%.6f, %.6f", a.Latitude, a.Longitude)),
			field("Organization", a.Organization),
			field("Audio", a.AudioURL),
		)
	}
	if s.FailedStep != "" {
		fields = append(fields, field("Failed step", s.FailedStep))
	}
	if to := s.Instance.Payload.EmailTo; to != "" {
		fields = append(fields, field("Recipient", to))
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func bodyBlock(s *workflow.Summary) map[string]any {
	var text string
	switch {
	case s.Alert != nil:
		text = "*Narration*\n\n" + truncate(s.Alert.Body, maxNarrationLen)
	case s.Err != nil:
		text = "*Error*\n\n```" + truncate(s.Err.Error(), maxNarrationLen) + "```"
	default:
		text = "*Source*\n\n" + truncate(s.Instance.Payload.EmailText, maxNarrationLen)
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(s *workflow.Summary) map[string]any {
	ts := s.Instance.CompletedAt
	if ts.IsZero() {
		ts = s.Instance.UpdatedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("prealert • workflow %s • %s", s.Instance.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func statusEmoji(s *workflow.Summary) string {
	if s.Instance.Status == workflow.InstanceFailed {
		return "\U0001f534" // red circle
	}
	return "\U0001f6a8" // rotating light
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
