package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hostsave/hostsave/internal/types"
	"github.com/hostsave/hostsave/pkg/utils"
)

var multiValueKeys = map[string]bool{
	"EXCLUDE_PATTERNS": true,
	"ARCHIVE_SOURCES":  true,
	"DNS_RECORDS":      true,
	"AGE_RECIPIENT":    true,
}

// Config holds the whole backup configuration. It is populated once
// by LoadConfig and treated as read-only afterwards; no component
// mutates it.
type Config struct {
	// General settings
	BackupEnabled bool
	DebugLevel    types.LogLevel
	UseColor      bool
	BaseDir       string
	DryRun        bool
	ConfigPath    string

	// Paths
	BackupPath string
	LogPath    string
	LockPath   string

	// Preflight safety settings
	MinFreeSpacePercent int
	SafetyFactor        float64
	SkipPermissionCheck bool

	// Environment audit (binaries, file modes, stray key material)
	AuditEnabled bool
	// AuditStrict turns audit errors into run aborts instead of warnings.
	AuditStrict bool

	// Archive settings
	ArchiveSources     []string
	CompressionType    types.CompressionType
	CompressionLevel   int
	CompressionThreads int
	VerifyAfterCreate  bool
	ExcludePatterns    []string

	// Encryption
	EncryptArchive   bool
	AgeRecipients    []string
	AgeRecipientFile string

	// Service-aware backup (stop a unit, archive its data, restart)
	ServiceBackupEnabled bool
	ServiceName          string
	ServiceSources       []string

	// Secondary (rsync mirror) target
	SecondaryEnabled bool
	SecondaryPath    string
	RsyncFlags       []string

	// Cloud target
	CloudEnabled      bool
	CloudTool         string // "rclone" or "restic"
	CloudRemote       string
	CloudRemotePath   string
	CloudRetryCount   int
	CloudRetryDelay   int // seconds between attempts
	CloudTimeout      int // seconds per sync attempt
	RcloneBandwidth   string
	RcloneTransfers   int
	RcloneFlags       []string
	ResticRepository  string
	ResticPasswordCmd string

	// Retention settings (days; applied to backups and session logs)
	LocalRetentionDays     int
	SecondaryRetentionDays int
	CloudRetentionDays     int

	// Retention policy selector ("age" or "gfs")
	RetentionPolicy string

	// GFS (Grandfather-Father-Son) tier limits, used when
	// RETENTION_POLICY=gfs
	RetentionDaily   int
	RetentionWeekly  int
	RetentionMonthly int
	RetentionYearly  int

	// Orchestration
	ParallelJobs bool

	// Cloudflare DNS updater
	DNSUpdateEnabled bool
	CFAPIToken       string
	CFZoneID         string
	DNSRecords       []string
	DNSRecordTTL     int
	PublicIPEndpoint string

	// Gotify notifications
	GotifyEnabled         bool
	GotifyServerURL       string
	GotifyToken           string
	GotifyPrioritySuccess int
	GotifyPriorityWarning int
	GotifyPriorityFailure int

	// Telegram notifications
	TelegramEnabled  bool
	TelegramBotToken string
	TelegramChatID   string

	// Webhook notifications
	WebhookEnabled       bool
	WebhookEndpointNames []string
	WebhookDefaultFormat string
	WebhookTimeout       int
	WebhookMaxRetries    int
	WebhookRetryDelay    int

	// Metrics
	MetricsEnabled bool
	MetricsPath    string

	// raw configuration map
	raw map[string]string
}

// LoadConfig reads the backup.env configuration file, applies
// environment-variable overrides and parses the typed fields.
func LoadConfig(configPath string) (*Config, error) {
	if !utils.FileExists(configPath) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	rawValues, err := parseEnvFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ConfigPath: configPath,
		raw:        rawValues,
	}

	cfg.loadEnvOverrides()

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	return cfg, nil
}

// loadEnvOverrides applies environment variables on top of the file
// values; the environment always wins.
func (c *Config) loadEnvOverrides() {
	envKeys := []string{
		"BACKUP_ENABLED", "DRY_RUN", "LOG_LEVEL", "DISABLE_COLORS",
		"BACKUP_PATH", "LOG_PATH", "LOCK_PATH",
		"MIN_FREE_SPACE_PERCENT", "SKIP_PERMISSION_CHECK",
		"ARCHIVE_SOURCES", "COMPRESSION_TYPE", "COMPRESSION_LEVEL", "COMPRESSION_THREADS",
		"VERIFY_AFTER_CREATE", "EXCLUDE_PATTERNS",
		"ENCRYPT_ARCHIVE", "AGE_RECIPIENT", "AGE_RECIPIENT_FILE",
		"SERVICE_BACKUP_ENABLED", "SERVICE_NAME", "SERVICE_SOURCES",
		"SECONDARY_ENABLED", "SECONDARY_PATH", "RSYNC_FLAGS",
		"CLOUD_ENABLED", "CLOUD_TOOL", "CLOUD_REMOTE", "CLOUD_REMOTE_PATH",
		"CLOUD_RETRY_COUNT", "CLOUD_RETRY_DELAY", "CLOUD_TIMEOUT",
		"RCLONE_BANDWIDTH_LIMIT", "RCLONE_TRANSFERS", "RCLONE_FLAGS",
		"RESTIC_REPOSITORY", "RESTIC_PASSWORD_COMMAND",
		"LOCAL_RETENTION_DAYS", "SECONDARY_RETENTION_DAYS", "CLOUD_RETENTION_DAYS",
		"RETENTION_POLICY",
		"RETENTION_DAILY", "RETENTION_WEEKLY", "RETENTION_MONTHLY", "RETENTION_YEARLY",
		"PARALLEL_JOBS",
		"DNS_UPDATE_ENABLED", "CF_API_TOKEN", "CF_ZONE_ID", "DNS_RECORDS",
		"DNS_RECORD_TTL", "PUBLIC_IP_ENDPOINT",
		"GOTIFY_ENABLED", "GOTIFY_SERVER_URL", "GOTIFY_TOKEN",
		"TELEGRAM_ENABLED", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
		"WEBHOOK_ENABLED", "WEBHOOK_ENDPOINTS", "WEBHOOK_FORMAT", "WEBHOOK_TIMEOUT",
		"WEBHOOK_MAX_RETRIES", "WEBHOOK_RETRY_DELAY",
		"METRICS_ENABLED", "METRICS_PATH",
	}

	for _, key := range envKeys {
		if envValue := os.Getenv(key); envValue != "" {
			c.raw[key] = envValue
		}
	}
}

// parse interprets the raw configuration values.
func (c *Config) parse() error {
	c.BackupEnabled = c.getBool("BACKUP_ENABLED", true)
	c.DryRun = c.getBool("DRY_RUN", false)

	c.DebugLevel = c.getLogLevel("LOG_LEVEL", types.LogLevelInfo)

	// DISABLE_COLORS overrides USE_COLOR (inverted meaning)
	if disableColors, ok := c.raw["DISABLE_COLORS"]; ok {
		c.UseColor = !utils.ParseBool(disableColors)
	} else {
		c.UseColor = c.getBool("USE_COLOR", true)
	}

	envBaseDir := os.Getenv("BASE_DIR")
	c.BaseDir = c.getString("BASE_DIR", envBaseDir)
	if c.BaseDir == "" {
		c.BaseDir = "/opt/hostsave"
	}
	_ = os.Setenv("BASE_DIR", c.BaseDir)

	c.BackupPath = c.getStringWithFallback([]string{"BACKUP_PATH", "LOCAL_BACKUP_PATH"}, filepath.Join(c.BaseDir, "backup"))
	c.LogPath = c.getString("LOG_PATH", filepath.Join(c.BaseDir, "log"))
	c.LockPath = c.getString("LOCK_PATH", filepath.Join(c.BaseDir, "lock"))

	c.MinFreeSpacePercent = c.getInt("MIN_FREE_SPACE_PERCENT", 10)
	if c.MinFreeSpacePercent < 0 || c.MinFreeSpacePercent > 100 {
		return fmt.Errorf("MIN_FREE_SPACE_PERCENT must be between 0 and 100, got %d", c.MinFreeSpacePercent)
	}
	c.SafetyFactor = 1.5
	c.SkipPermissionCheck = c.getBool("SKIP_PERMISSION_CHECK", false)

	c.AuditEnabled = c.getBool("AUDIT_ENABLED", true)
	c.AuditStrict = c.getBool("AUDIT_STRICT", false)

	c.ArchiveSources = normalizeList(c.getStringSlice("ARCHIVE_SOURCES", nil))
	if len(c.ArchiveSources) == 0 {
		c.ArchiveSources = []string{"/"}
	}
	c.CompressionType = c.getCompressionType("COMPRESSION_TYPE", types.CompressionGzip)
	c.CompressionLevel = c.getInt("COMPRESSION_LEVEL", 6)
	c.CompressionThreads = c.getInt("COMPRESSION_THREADS", 0) // 0 = auto
	c.VerifyAfterCreate = c.getBool("VERIFY_AFTER_CREATE", true)
	c.ExcludePatterns = normalizeList(c.getStringSlice("EXCLUDE_PATTERNS", nil))

	c.EncryptArchive = c.getBool("ENCRYPT_ARCHIVE", false)
	c.AgeRecipientFile = strings.TrimSpace(c.getString("AGE_RECIPIENT_FILE", ""))
	c.AgeRecipients = c.getStringSlice("AGE_RECIPIENT", nil)

	c.ServiceBackupEnabled = c.getBool("SERVICE_BACKUP_ENABLED", false)
	c.ServiceName = strings.TrimSpace(c.getString("SERVICE_NAME", ""))
	c.ServiceSources = normalizeList(c.getStringSlice("SERVICE_SOURCES", nil))
	if c.ServiceBackupEnabled {
		if c.ServiceName == "" {
			return fmt.Errorf("SERVICE_BACKUP_ENABLED requires SERVICE_NAME")
		}
		if len(c.ServiceSources) == 0 {
			return fmt.Errorf("SERVICE_BACKUP_ENABLED requires SERVICE_SOURCES")
		}
	}

	c.SecondaryEnabled = c.getBool("SECONDARY_ENABLED", false)
	c.SecondaryPath = c.getString("SECONDARY_PATH", "")
	if rawFlags := strings.TrimSpace(c.getString("RSYNC_FLAGS", "")); rawFlags != "" {
		c.RsyncFlags = strings.Fields(rawFlags)
	}

	c.CloudEnabled = c.getBool("CLOUD_ENABLED", false)
	tool := strings.ToLower(strings.TrimSpace(c.getString("CLOUD_TOOL", "rclone")))
	switch tool {
	case "rclone", "restic":
		c.CloudTool = tool
	default:
		return fmt.Errorf("CLOUD_TOOL must be \"rclone\" or \"restic\", got %q", tool)
	}
	c.CloudRemote = c.getString("CLOUD_REMOTE", "")
	c.CloudRemotePath = strings.Trim(strings.TrimSpace(c.getString("CLOUD_REMOTE_PATH", "")), "/")
	c.CloudRetryCount = c.ensurePositiveInt("CLOUD_RETRY_COUNT", 3)
	c.CloudRetryDelay = c.getInt("CLOUD_RETRY_DELAY", 30)
	if c.CloudRetryDelay < 0 {
		c.CloudRetryDelay = 30
	}
	c.CloudTimeout = c.ensurePositiveInt("CLOUD_TIMEOUT", 300)
	c.RcloneBandwidth = c.getString("RCLONE_BANDWIDTH_LIMIT", "")
	c.RcloneTransfers = c.ensurePositiveInt("RCLONE_TRANSFERS", 4)
	if rawFlags := strings.TrimSpace(c.getString("RCLONE_FLAGS", "")); rawFlags != "" {
		c.RcloneFlags = strings.Fields(rawFlags)
	}
	c.ResticRepository = strings.TrimSpace(c.getString("RESTIC_REPOSITORY", ""))
	c.ResticPasswordCmd = strings.TrimSpace(c.getString("RESTIC_PASSWORD_COMMAND", ""))
	if c.CloudEnabled {
		switch c.CloudTool {
		case "rclone":
			if c.CloudRemote == "" {
				return fmt.Errorf("CLOUD_ENABLED with CLOUD_TOOL=rclone requires CLOUD_REMOTE")
			}
		case "restic":
			if c.ResticRepository == "" {
				return fmt.Errorf("CLOUD_ENABLED with CLOUD_TOOL=restic requires RESTIC_REPOSITORY")
			}
		}
	}

	c.LocalRetentionDays = c.ensurePositiveInt("LOCAL_RETENTION_DAYS", 7)
	c.SecondaryRetentionDays = c.ensurePositiveInt("SECONDARY_RETENTION_DAYS", 14)
	c.CloudRetentionDays = c.ensurePositiveInt("CLOUD_RETENTION_DAYS", 30)

	// RETENTION_POLICY=age (default) prunes by modification time;
	// RETENTION_POLICY=gfs keeps daily/weekly/monthly/yearly tiers.
	policy := strings.ToLower(strings.TrimSpace(c.getString("RETENTION_POLICY", "age")))
	switch policy {
	case "gfs":
		c.RetentionPolicy = "gfs"
	case "age", "":
		c.RetentionPolicy = "age"
	default:
		return fmt.Errorf("RETENTION_POLICY must be \"age\" or \"gfs\", got %q", policy)
	}
	c.RetentionDaily = c.getInt("RETENTION_DAILY", 0)
	c.RetentionWeekly = c.getInt("RETENTION_WEEKLY", 0)
	c.RetentionMonthly = c.getInt("RETENTION_MONTHLY", 0)
	c.RetentionYearly = c.getInt("RETENTION_YEARLY", 0)

	c.ParallelJobs = c.getBool("PARALLEL_JOBS", false)

	c.DNSUpdateEnabled = c.getBool("DNS_UPDATE_ENABLED", false)
	c.CFAPIToken = strings.TrimSpace(c.getString("CF_API_TOKEN", ""))
	c.CFZoneID = strings.TrimSpace(c.getString("CF_ZONE_ID", ""))
	c.DNSRecords = normalizeList(c.getStringSlice("DNS_RECORDS", nil))
	c.DNSRecordTTL = c.ensurePositiveInt("DNS_RECORD_TTL", 300)
	c.PublicIPEndpoint = strings.TrimSpace(c.getString("PUBLIC_IP_ENDPOINT", "https://api.ipify.org"))

	c.GotifyEnabled = c.getBool("GOTIFY_ENABLED", false)
	c.GotifyServerURL = strings.TrimSpace(c.getString("GOTIFY_SERVER_URL", ""))
	c.GotifyToken = strings.TrimSpace(c.getString("GOTIFY_TOKEN", ""))
	c.GotifyPrioritySuccess = c.ensurePositiveInt("GOTIFY_PRIORITY_SUCCESS", 2)
	c.GotifyPriorityWarning = c.ensurePositiveInt("GOTIFY_PRIORITY_WARNING", 5)
	c.GotifyPriorityFailure = c.ensurePositiveInt("GOTIFY_PRIORITY_FAILURE", 8)

	c.TelegramEnabled = c.getBool("TELEGRAM_ENABLED", false)
	c.TelegramBotToken = c.getString("TELEGRAM_BOT_TOKEN", "")
	c.TelegramChatID = c.getString("TELEGRAM_CHAT_ID", "")

	c.WebhookEnabled = c.getBool("WEBHOOK_ENABLED", false)
	c.WebhookDefaultFormat = c.getString("WEBHOOK_FORMAT", "generic")
	c.WebhookTimeout = c.ensurePositiveInt("WEBHOOK_TIMEOUT", 30)
	c.WebhookMaxRetries = c.getInt("WEBHOOK_MAX_RETRIES", 3)
	c.WebhookRetryDelay = c.getInt("WEBHOOK_RETRY_DELAY", 2)

	endpointNames := c.getString("WEBHOOK_ENDPOINTS", "")
	if endpointNames != "" {
		c.WebhookEndpointNames = strings.Split(endpointNames, ",")
		for i, name := range c.WebhookEndpointNames {
			c.WebhookEndpointNames[i] = strings.TrimSpace(name)
		}
	} else {
		c.WebhookEndpointNames = []string{}
	}

	c.MetricsEnabled = c.getBool("METRICS_ENABLED", false)
	rawMetricsPath := strings.TrimSpace(c.getString("METRICS_PATH", ""))
	if rawMetricsPath == "" {
		// Default to the node_exporter textfile directory
		c.MetricsPath = "/var/lib/prometheus/node-exporter"
	} else {
		c.MetricsPath = rawMetricsPath
	}

	return nil
}

// Typed accessors over the raw map

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok {
		return expandEnvVars(val)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	if val, ok := c.raw[key]; ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (c *Config) ensurePositiveInt(key string, defaultValue int) int {
	value := c.getInt(key, defaultValue)
	if value <= 0 {
		return defaultValue
	}
	return value
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	val, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	val = strings.TrimSpace(val)
	if numeric, err := strconv.Atoi(val); err == nil {
		level := types.LogLevel(numeric)
		if level >= types.LogLevelNone && level <= types.LogLevelDebug {
			return level
		}
		return defaultValue
	}
	if level, err := types.ParseLogLevel(val); err == nil {
		return level
	}
	return defaultValue
}

func (c *Config) getCompressionType(key string, defaultValue types.CompressionType) types.CompressionType {
	val, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	comp := types.CompressionType(strings.ToLower(strings.TrimSpace(val)))
	if comp.Valid() {
		return comp
	}
	return defaultValue
}

func (c *Config) getStringSlice(key string, defaultValue []string) []string {
	val, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return defaultValue
	}

	parts := strings.FieldsFunc(val, func(r rune) bool {
		switch r {
		case ',', ';', '|', '\n':
			return true
		default:
			return false
		}
	})

	var result []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			trimmed = strings.Trim(trimmed, `"'`)
			result = append(result, expandEnvVars(trimmed))
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

func (c *Config) getStringWithFallback(keys []string, defaultValue string) string {
	for _, key := range keys {
		if val, ok := c.raw[key]; ok && val != "" {
			return expandEnvVars(val)
		}
	}
	return defaultValue
}

// expandEnvVars expands ${VAR} and $VAR style references.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if key == "BASE_DIR" {
			if val := os.Getenv("BASE_DIR"); val != "" {
				return val
			}
			return "/opt/hostsave"
		}
		return os.Getenv(key)
	})
}

// Get returns a raw configuration value.
func (c *Config) Get(key string) (string, bool) {
	val, ok := c.raw[key]
	return val, ok
}

// IsGFSRetentionEnabled reports whether the GFS policy is active.
func (c *Config) IsGFSRetentionEnabled() bool {
	return strings.ToLower(strings.TrimSpace(c.RetentionPolicy)) == "gfs"
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	clean := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		clean = append(clean, trimmed)
	}
	return clean
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if utils.IsComment(trimmed) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		if multiValueKeys[key] {
			if existing, ok := raw[key]; ok && existing != "" {
				raw[key] = existing + "\n" + value
			} else {
				raw[key] = value
			}
		} else {
			raw[key] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	Enabled       bool
	Endpoints     []WebhookEndpoint
	DefaultFormat string
	Timeout       int
	MaxRetries    int
	RetryDelay    int
}

// WebhookEndpoint represents a single webhook endpoint configuration.
type WebhookEndpoint struct {
	Name    string
	URL     string
	Format  string
	Method  string
	Headers map[string]string
	Auth    WebhookAuth
}

// WebhookAuth holds authentication configuration for a webhook.
type WebhookAuth struct {
	Type  string
	Token string
	User  string
	Pass  string
}

// BuildWebhookConfig assembles per-endpoint webhook settings from the
// WEBHOOK_<NAME>_* keys.
func (c *Config) BuildWebhookConfig() *WebhookConfig {
	endpoints := []WebhookEndpoint{}

	for _, name := range c.WebhookEndpointNames {
		if name == "" {
			continue
		}

		prefix := fmt.Sprintf("WEBHOOK_%s_", strings.ToUpper(strings.ReplaceAll(name, "-", "_")))

		url := c.getString(prefix+"URL", "")
		if url == "" {
			continue
		}

		auth := WebhookAuth{
			Type:  c.getString(prefix+"AUTH_TYPE", "none"),
			Token: c.getString(prefix+"AUTH_TOKEN", ""),
			User:  c.getString(prefix+"AUTH_USER", ""),
			Pass:  c.getString(prefix+"AUTH_PASS", ""),
		}

		headers := make(map[string]string)
		if headersStr := c.getString(prefix+"HEADERS", ""); headersStr != "" {
			// Format: "Key1:Value1,Key2:Value2"
			for _, pair := range strings.Split(headersStr, ",") {
				parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
				if len(parts) == 2 {
					headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
				}
			}
		}

		endpoints = append(endpoints, WebhookEndpoint{
			Name:    name,
			URL:     url,
			Format:  c.getString(prefix+"FORMAT", c.WebhookDefaultFormat),
			Method:  c.getString(prefix+"METHOD", "POST"),
			Headers: headers,
			Auth:    auth,
		})
	}

	return &WebhookConfig{
		Enabled:       c.WebhookEnabled,
		Endpoints:     endpoints,
		DefaultFormat: c.WebhookDefaultFormat,
		Timeout:       c.WebhookTimeout,
		MaxRetries:    c.WebhookMaxRetries,
		RetryDelay:    c.WebhookRetryDelay,
	}
}
