package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/orchestrator"
)

// GotifyConfig holds configuration for Gotify notifications.
type GotifyConfig struct {
	Enabled         bool
	ServerURL       string
	Token           string
	PrioritySuccess int
	PriorityWarning int
	PriorityFailure int
}

// GotifyNotifier posts the run summary to a Gotify server.
type GotifyNotifier struct {
	config GotifyConfig
	logger *logging.Logger
	client *http.Client
}

type gotifyMessage struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

func NewGotifyNotifier(cfg GotifyConfig, logger *logging.Logger) (*GotifyNotifier, error) {
	trimmedURL := strings.TrimSpace(cfg.ServerURL)
	if cfg.Enabled {
		if trimmedURL == "" {
			return nil, fmt.Errorf("GOTIFY_SERVER_URL is required when GOTIFY_ENABLED=true")
		}
		if strings.TrimSpace(cfg.Token) == "" {
			return nil, fmt.Errorf("GOTIFY_TOKEN is required when GOTIFY_ENABLED=true")
		}
	}

	cfg.ServerURL = strings.TrimRight(trimmedURL, "/")
	if cfg.PrioritySuccess <= 0 {
		cfg.PrioritySuccess = 2
	}
	if cfg.PriorityWarning <= 0 {
		cfg.PriorityWarning = 5
	}
	if cfg.PriorityFailure <= 0 {
		cfg.PriorityFailure = 8
	}

	return &GotifyNotifier{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *GotifyNotifier) Name() string { return "Gotify" }

func (g *GotifyNotifier) IsEnabled() bool {
	return g != nil && g.config.Enabled
}

// Notify delivers the summary; any failure is returned for the caller
// to log as a warning.
func (g *GotifyNotifier) Notify(ctx context.Context, stats *orchestrator.RunStats) error {
	endpoint, err := g.buildEndpoint()
	if err != nil {
		return fmt.Errorf("invalid Gotify configuration: %w", err)
	}

	payload := gotifyMessage{
		Title:    BuildTitle(stats),
		Message:  BuildText(stats),
		Priority: g.mapPriority(StatusOf(stats)),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding Gotify payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building Gotify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gotify request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gotify returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	g.logger.Debug("Gotify confirmed delivery (status=%d)", resp.StatusCode)
	return nil
}

func (g *GotifyNotifier) buildEndpoint() (string, error) {
	if g.config.ServerURL == "" {
		return "", fmt.Errorf("server URL is empty")
	}
	parsed, err := url.Parse(g.config.ServerURL + "/message")
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("token", g.config.Token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (g *GotifyNotifier) mapPriority(status Status) int {
	switch status {
	case StatusFailure:
		return g.config.PriorityFailure
	case StatusWarning:
		return g.config.PriorityWarning
	default:
		return g.config.PrioritySuccess
	}
}
