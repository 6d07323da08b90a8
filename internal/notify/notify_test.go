package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hostsave/hostsave/internal/config"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/orchestrator"
	"github.com/hostsave/hostsave/internal/types"
)

func testLogger() *logging.Logger {
	return logging.New(types.LogLevelNone, false)
}

func sampleStats(exitCode int) *orchestrator.RunStats {
	start := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	return &orchestrator.RunStats{
		Hostname:  "alpha",
		Distro:    "Debian GNU/Linux 13",
		Version:   "1.0.0",
		StartTime: start,
		EndTime:   start.Add(3 * time.Minute),
		Artifacts: []orchestrator.ArtifactReport{
			{Path: "/backups/alpha-backup-20260825-030000.tar.gz", Size: 1 << 20, Compression: "gzip"},
		},
		Jobs:         []orchestrator.JobReport{{Name: "full-system backup", Status: "ok"}},
		TargetStatus: map[string]string{"local": "ok", "cloud": "ok"},
		ExitCode:     exitCode,
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(sampleStats(0)); got != StatusSuccess {
		t.Errorf("clean run = %v, want success", got)
	}
	warned := sampleStats(0)
	warned.WarningCount = 2
	if got := StatusOf(warned); got != StatusWarning {
		t.Errorf("warned run = %v, want warning", got)
	}
	if got := StatusOf(sampleStats(4)); got != StatusFailure {
		t.Errorf("failed run = %v, want failure", got)
	}
}

func TestBuildTextContents(t *testing.T) {
	text := BuildText(sampleStats(0))
	for _, want := range []string{
		"Host: alpha (Debian GNU/Linux 13)",
		"Job full-system backup: ok",
		"alpha-backup-20260825-030000.tar.gz",
		"Storage cloud: ok",
		"Storage local: ok",
		"Exit code: 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
}

func TestGotifyNotify(t *testing.T) {
	var got gotifyMessage
	var token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.URL.Query().Get("token")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := NewGotifyNotifier(GotifyConfig{
		Enabled:   true,
		ServerURL: server.URL,
		Token:     "apptoken",
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), sampleStats(4)); err != nil {
		t.Fatal(err)
	}
	if token != "apptoken" {
		t.Errorf("token = %q", token)
	}
	if got.Priority != 8 {
		t.Errorf("failure priority = %d, want 8", got.Priority)
	}
	if !strings.Contains(got.Title, "failure") {
		t.Errorf("title %q should mention failure", got.Title)
	}
}

func TestGotifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	n, err := NewGotifyNotifier(GotifyConfig{Enabled: true, ServerURL: server.URL, Token: "x"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), sampleStats(0)); err == nil {
		t.Error("expected error for HTTP 401")
	}
}

func TestGotifyConfigValidation(t *testing.T) {
	if _, err := NewGotifyNotifier(GotifyConfig{Enabled: true}, testLogger()); err == nil {
		t.Error("enabled Gotify without URL must be rejected")
	}
	if _, err := NewGotifyNotifier(GotifyConfig{Enabled: false}, testLogger()); err != nil {
		t.Errorf("disabled Gotify should not validate: %v", err)
	}
}

func TestTelegramNotify(t *testing.T) {
	var got telegramMessage
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n, err := NewTelegramNotifier(TelegramConfig{
		Enabled:  true,
		BotToken: "123:abc",
		ChatID:   "42",
		APIBase:  server.URL,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), sampleStats(0)); err != nil {
		t.Fatal(err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if got.ChatID != "42" || got.ParseMode != "HTML" {
		t.Errorf("unexpected message: %+v", got)
	}
}

func TestTelegramRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	n, _ := NewTelegramNotifier(TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", APIBase: server.URL}, testLogger())
	err := n.Notify(context.Background(), sampleStats(0))
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected rejection error, got %v", err)
	}
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	orig := webhookSleep
	var slept int
	webhookSleep = func(ctx context.Context, d time.Duration) error {
		slept++
		return nil
	}
	defer func() { webhookSleep = orig }()

	var attempts int
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		auth = r.Header.Get("Authorization")
		if attempts < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(&config.WebhookConfig{
		Enabled:    true,
		MaxRetries: 3,
		RetryDelay: 1,
		Endpoints: []config.WebhookEndpoint{{
			Name: "ops",
			URL:  server.URL,
			Auth: config.WebhookAuth{Type: "bearer", Token: "secret"},
		}},
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), sampleStats(0)); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if attempts != 3 || slept != 2 {
		t.Errorf("attempts=%d slept=%d", attempts, slept)
	}
	if auth != "Bearer secret" {
		t.Errorf("auth header = %q", auth)
	}
}

func TestWebhookReportsFailedEndpoints(t *testing.T) {
	orig := webhookSleep
	webhookSleep = func(ctx context.Context, d time.Duration) error { return nil }
	defer func() { webhookSleep = orig }()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	n, _ := NewWebhookNotifier(&config.WebhookConfig{
		Enabled:    true,
		MaxRetries: 2,
		Endpoints:  []config.WebhookEndpoint{{Name: "ops", URL: server.URL}},
	}, testLogger())
	err := n.Notify(context.Background(), sampleStats(0))
	if err == nil || !strings.Contains(err.Error(), "ops") {
		t.Errorf("expected failure naming the endpoint, got %v", err)
	}
}
