package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/vigil/internal/config"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookRetries = 3
)

// Retry backoff unit, linear per attempt.
var backoffUnit = time.Second

// SendWebhook posts the payload to the configured webhook with bounded
// retries. 4xx responses fail immediately; 5xx and transport errors retry
// with linear backoff. When all attempts are exhausted the payload is
// appended to the dead-letter file (if configured) and the last error is
// returned.
func SendWebhook(ctx context.Context, cfg config.WebhookConfig, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("export: marshal webhook payload: %w", err)
	}

	timeout := defaultWebhookTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	retries := cfg.Retries
	if retries < 1 {
		retries = defaultWebhookRetries
	}
	client := &http.Client{Timeout: timeout}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * backoffUnit):
			case <-ctx.Done():
				return deadLetter(cfg, body, ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("export: create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return deadLetter(cfg, body, fmt.Errorf("export: webhook rejected: HTTP %d", resp.StatusCode))
		}
		lastErr = fmt.Errorf("export: webhook server error: HTTP %d", resp.StatusCode)
	}

	return deadLetter(cfg, body, fmt.Errorf("export: webhook failed after %d attempts: %w", retries, lastErr))
}

// deadLetter appends the undeliverable payload before surfacing the error,
// so no payload is silently lost.
func deadLetter(cfg config.WebhookConfig, body []byte, cause error) error {
	if cfg.DeadLetterPath == "" {
		return cause
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DeadLetterPath), 0o755); err != nil {
		return fmt.Errorf("export: dead-letter dir: %v (delivery error: %w)", err, cause)
	}
	f, err := os.OpenFile(cfg.DeadLetterPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("export: dead-letter open: %v (delivery error: %w)", err, cause)
	}
	defer f.Close()
	f.Write(append(body, '\n'))
	return cause
}
