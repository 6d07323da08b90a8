package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hostsave/hostsave/internal/config"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/orchestrator"
)

// webhookSleep waits between delivery attempts; swapped out in tests.
var webhookSleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WebhookNotifier posts a JSON payload to each configured endpoint,
// retrying failed deliveries a fixed number of times.
type WebhookNotifier struct {
	config *config.WebhookConfig
	logger *logging.Logger
	client *http.Client
}

// webhookPayload is the JSON body sent to generic endpoints.
type webhookPayload struct {
	Title  string                 `json:"title"`
	Status string                 `json:"status"`
	Text   string                 `json:"text"`
	Stats  *orchestrator.RunStats `json:"stats"`
}

func NewWebhookNotifier(cfg *config.WebhookConfig, logger *logging.Logger) (*WebhookNotifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("webhook configuration is nil")
	}
	if cfg.Enabled && len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("WEBHOOK_ENABLED=true but no endpoints are configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15
	}
	return &WebhookNotifier{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}, nil
}

func (w *WebhookNotifier) Name() string { return "Webhook" }

func (w *WebhookNotifier) IsEnabled() bool {
	return w != nil && w.config.Enabled && len(w.config.Endpoints) > 0
}

// Notify delivers to every endpoint and reports the endpoints that
// exhausted their retries.
func (w *WebhookNotifier) Notify(ctx context.Context, stats *orchestrator.RunStats) error {
	payload := webhookPayload{
		Title:  BuildTitle(stats),
		Status: StatusOf(stats).String(),
		Text:   BuildText(stats),
		Stats:  stats,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	var failed []string
	for _, endpoint := range w.config.Endpoints {
		if err := w.deliver(ctx, endpoint, body); err != nil {
			w.logger.Warning("Webhook %s failed: %v", endpoint.Name, err)
			failed = append(failed, endpoint.Name)
			continue
		}
		w.logger.Debug("Webhook %s confirmed delivery", endpoint.Name)
	}
	if len(failed) > 0 {
		return fmt.Errorf("delivery failed for: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (w *WebhookNotifier) deliver(ctx context.Context, endpoint config.WebhookEndpoint, body []byte) error {
	attempts := w.config.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	delay := time.Duration(w.config.RetryDelay) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = w.post(ctx, endpoint, body)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		w.logger.Debug("Webhook %s attempt %d/%d failed: %v", endpoint.Name, attempt, attempts, lastErr)
		if err := webhookSleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func (w *WebhookNotifier) post(ctx context.Context, endpoint config.WebhookEndpoint, body []byte) error {
	method := endpoint.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range endpoint.Headers {
		req.Header.Set(key, value)
	}
	applyAuth(req, endpoint.Auth)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func applyAuth(req *http.Request, auth config.WebhookAuth) {
	switch strings.ToLower(auth.Type) {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		req.SetBasicAuth(auth.User, auth.Pass)
	case "token":
		req.Header.Set("X-Auth-Token", auth.Token)
	}
}
