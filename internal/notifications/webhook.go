package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/httputil"
	"github.com/kjannette/stock-data-pipeline/internal/models"
)

const defaultUsername = "stock-data-pipeline"

// Sender posts messages to a Slack or Discord incoming webhook. A Sender
// without a URL only logs.
type Sender struct {
	webhookURL string
	username   string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewSender(webhookURL, username string) *Sender {
	if username == "" {
		username = defaultUsername
	}
	return &Sender{
		webhookURL: webhookURL,
		username:   username,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

// Send posts msg to the webhook.
func (s *Sender) Send(ctx context.Context, msg string) error {
	log.Info().Str("component", "notifications").Msg(msg)
	if !s.Enabled() {
		return nil
	}

	body, err := json.Marshal(s.formatPayload(msg))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send webhook: status %d", resp.StatusCode)
	}
	return nil
}

// NotifyRun reports a finished run. Delivery failures are logged.
func (s *Sender) NotifyRun(ctx context.Context, sum *models.RunSummary) {
	if err := s.Send(ctx, sum.Text()); err != nil {
		log.Warn().Err(err).Str("run_id", sum.RunID.String()).Msg("run notification failed")
	}
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.username,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("```%s```", msg),
		"username": s.username,
	}
}
