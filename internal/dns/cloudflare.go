// Package dns keeps a set of Cloudflare A records pointed at this
// host's current public address. The update is idempotent: records
// that already match are left alone.
package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hostsave/hostsave/internal/logging"
)

const defaultAPIBase = "https://api.cloudflare.com/client/v4"

// Config holds the updater settings.
type Config struct {
	Enabled  bool
	APIToken string
	ZoneID   string
	// Records are the fully qualified names to keep updated.
	Records []string
	TTL     int
	// PublicIPEndpoint returns the caller's IPv4 as plain text.
	PublicIPEndpoint string
	// APIBase overrides the Cloudflare endpoint, used in tests.
	APIBase string
}

// Updater applies the configured records against the zone.
type Updater struct {
	cfg    Config
	logger *logging.Logger
	client *http.Client
}

// Result summarizes one update pass.
type Result struct {
	PublicIP string
	Updated  []string
	UpToDate []string
	Missing  []string
	Failed   []string
}

// record is the subset of a Cloudflare DNS record we read and write.
type record struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// envelope is the Cloudflare v4 response wrapper.
type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

func NewUpdater(cfg Config, logger *logging.Logger) (*Updater, error) {
	if cfg.Enabled {
		if strings.TrimSpace(cfg.APIToken) == "" {
			return nil, fmt.Errorf("CF_API_TOKEN is required when DNS_UPDATE_ENABLED=true")
		}
		if strings.TrimSpace(cfg.ZoneID) == "" {
			return nil, fmt.Errorf("CF_ZONE_ID is required when DNS_UPDATE_ENABLED=true")
		}
		if len(cfg.Records) == 0 {
			return nil, fmt.Errorf("DNS_RECORDS is empty")
		}
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.PublicIPEndpoint == "" {
		cfg.PublicIPEndpoint = "https://api.ipify.org"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 300
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Updater{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (u *Updater) IsEnabled() bool {
	return u != nil && u.cfg.Enabled
}

// Run discovers the public address and reconciles every configured
// record. It returns an error only when nothing could be done: IP
// discovery failed, the zone listing failed, or every record failed.
func (u *Updater) Run(ctx context.Context) (*Result, error) {
	ip, err := u.discoverPublicIP(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering public IP: %w", err)
	}
	result := &Result{PublicIP: ip}
	u.logger.Info("Public IPv4: %s", ip)

	records, err := u.listARecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing zone records: %w", err)
	}
	byName := make(map[string]record, len(records))
	for _, r := range records {
		byName[r.Name] = r
	}

	for _, name := range u.cfg.Records {
		existing, ok := byName[name]
		if !ok {
			u.logger.Warning("Record %s not found in zone, skipping", name)
			result.Missing = append(result.Missing, name)
			continue
		}
		if existing.Content == ip {
			u.logger.Info("Record %s already points to %s", name, ip)
			result.UpToDate = append(result.UpToDate, name)
			continue
		}
		if err := u.updateRecord(ctx, existing, ip); err != nil {
			u.logger.Warning("Record %s update failed: %v", name, err)
			result.Failed = append(result.Failed, name)
			continue
		}
		u.logger.Info("Record %s updated: %s -> %s", name, existing.Content, ip)
		result.Updated = append(result.Updated, name)
	}

	if len(result.Failed) > 0 && len(result.Updated) == 0 && len(result.UpToDate) == 0 {
		return result, fmt.Errorf("all %d record updates failed", len(result.Failed))
	}
	return result, nil
}

func (u *Updater) discoverPublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.PublicIPEndpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	ip := strings.TrimSpace(string(body))
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return "", fmt.Errorf("endpoint returned %q, not an IPv4 address", ip)
	}
	return ip, nil
}

func (u *Updater) listARecords(ctx context.Context) ([]record, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records?type=A&per_page=100", u.cfg.APIBase, u.cfg.ZoneID)
	raw, err := u.call(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parsing record list: %w", err)
	}
	return records, nil
}

func (u *Updater) updateRecord(ctx context.Context, existing record, ip string) error {
	update := record{
		Type:    "A",
		Name:    existing.Name,
		Content: ip,
		TTL:     u.cfg.TTL,
		Proxied: existing.Proxied,
	}
	body, err := json.Marshal(update)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/zones/%s/dns_records/%s", u.cfg.APIBase, u.cfg.ZoneID, existing.ID)
	_, err = u.call(ctx, http.MethodPut, url, body)
	return err
}

// call performs one authenticated API request and unwraps the v4
// response envelope.
func (u *Updater) call(ctx context.Context, method, url string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+u.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("HTTP %d with unreadable body", resp.StatusCode)
	}
	if !env.Success {
		if len(env.Errors) > 0 {
			return nil, fmt.Errorf("cloudflare: %s", env.Errors[0].Message)
		}
		return nil, fmt.Errorf("cloudflare returned HTTP %d", resp.StatusCode)
	}
	return env.Result, nil
}
