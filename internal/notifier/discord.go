package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/yt_downloader/internal/downloader"
	"github.com/italolelis/yt_downloader/internal/logctx"
)

const (
	defaultTimeout = 10 * time.Second

	// Discord rejects messages longer than this.
	maxContentLength = 2000
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: defaultTimeout},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	if r := []rune(content); len(r) > maxContentLength {
		content = string(r[:maxContentLength-1]) + "…"
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// WatchFailures forwards every failed job to n until jobs is closed or ctx is done.
func WatchFailures(ctx context.Context, n Notifier, jobs <-chan *downloader.Job) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}

			if err := n.Notify(ctx, FailureMessage(job)); err != nil {
				logger.ErrorContext(ctx, "failed to send notification", "job_id", job.ID, "err", err)
			}
		}
	}
}

// FailureMessage renders the notification text for a failed job.
func FailureMessage(job *downloader.Job) string {
	return fmt.Sprintf("Download failed (%s): %s\nReason: %v", job.Policy.Format, job.MediaRef, job.Err)
}
