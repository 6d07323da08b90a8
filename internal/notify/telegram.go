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

	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/orchestrator"
)

// TelegramConfig holds configuration for Telegram notifications.
type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   string
	// APIBase overrides the Telegram API host, used in tests.
	APIBase string
}

// TelegramNotifier sends the run summary via the Bot API.
type TelegramNotifier struct {
	config TelegramConfig
	logger *logging.Logger
	client *http.Client
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewTelegramNotifier(cfg TelegramConfig, logger *logging.Logger) (*TelegramNotifier, error) {
	if cfg.Enabled {
		if strings.TrimSpace(cfg.BotToken) == "" {
			return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED=true")
		}
		if strings.TrimSpace(cfg.ChatID) == "" {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_ENABLED=true")
		}
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (t *TelegramNotifier) Name() string { return "Telegram" }

func (t *TelegramNotifier) IsEnabled() bool {
	return t != nil && t.config.Enabled
}

func (t *TelegramNotifier) Notify(ctx context.Context, stats *orchestrator.RunStats) error {
	payload := telegramMessage{
		ChatID:    t.config.ChatID,
		Text:      BuildHTML(stats),
		ParseMode: "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding Telegram payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.config.APIBase, t.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building Telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiResp telegramResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("telegram returned HTTP %d with unreadable body", resp.StatusCode)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram rejected the message: %s", apiResp.Description)
	}

	t.logger.Debug("Telegram confirmed delivery")
	return nil
}
