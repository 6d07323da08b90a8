// Package wizard implements the interactive setup flow that generates
// or updates backup.env.
package wizard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hostsave/hostsave/internal/tui"
	"github.com/hostsave/hostsave/internal/tui/components"
	"github.com/hostsave/hostsave/pkg/utils"
)

// Form field labels. Each label maps to exactly one backup.env key.
const (
	labelBaseDir       = "Base directory"
	labelBackupPath    = "Backup directory"
	labelSources       = "Archive sources (space-separated)"
	labelExcludes      = "Exclude patterns (space-separated)"
	labelCompression   = "Compression"
	labelRetentionDays = "Local retention (days)"
	labelEncrypt       = "Encrypt archives"
	labelSecondary     = "Mirror to secondary path"
	labelSecondaryPath = "Secondary path"
	labelCloud         = "Sync to cloud"
	labelCloudTool     = "Cloud tool"
	labelCloudRemote   = "Cloud remote"
	labelGotify        = "Gotify notifications"
	labelGotifyURL     = "Gotify server URL"
	labelGotifyToken   = "Gotify token"
)

var envKeyForLabel = map[string]string{
	labelBaseDir:       "BASE_DIR",
	labelBackupPath:    "BACKUP_PATH",
	labelSources:       "ARCHIVE_SOURCES",
	labelExcludes:      "EXCLUDE_PATTERNS",
	labelCompression:   "COMPRESSION_TYPE",
	labelRetentionDays: "LOCAL_RETENTION_DAYS",
	labelEncrypt:       "ENCRYPT_ARCHIVE",
	labelSecondary:     "SECONDARY_ENABLED",
	labelSecondaryPath: "SECONDARY_PATH",
	labelCloud:         "CLOUD_ENABLED",
	labelCloudTool:     "CLOUD_TOOL",
	labelCloudRemote:   "CLOUD_REMOTE",
	labelGotify:        "GOTIFY_ENABLED",
	labelGotifyURL:     "GOTIFY_SERVER_URL",
	labelGotifyToken:   "GOTIFY_TOKEN",
}

var compressionOptions = []string{"zstd", "gzip", "xz", "none"}
var cloudToolOptions = []string{"rclone", "restic"}

// defaultTemplate is the starting point when no configuration file
// exists yet. The wizard only rewrites the keys it manages, so manual
// edits and comments survive later runs.
const defaultTemplate = `# Backup configuration
# Generated by the setup wizard. Edit by hand or re-run with --setup.

BACKUP_ENABLED=true
BASE_DIR=/opt/hostsave
BACKUP_PATH=
ARCHIVE_SOURCES="/etc /home /root /var/lib"
EXCLUDE_PATTERNS="*.tmp *.cache"

COMPRESSION_TYPE=zstd
LOCAL_RETENTION_DAYS=7
ENCRYPT_ARCHIVE=false

SECONDARY_ENABLED=false
SECONDARY_PATH=

CLOUD_ENABLED=false
CLOUD_TOOL=rclone
CLOUD_REMOTE=

GOTIFY_ENABLED=false
GOTIFY_SERVER_URL=
GOTIFY_TOKEN=
`

// Result reports what the wizard did.
type Result struct {
	Saved bool
	Path  string
}

// Run launches the setup form and blocks until the user saves or
// cancels. The context cancels the TUI when the process is interrupted.
func Run(ctx context.Context, configPath string) (*Result, error) {
	tui.SetAbortContext(ctx)
	app := tui.NewApp()

	template := defaultTemplate
	if data, err := os.ReadFile(configPath); err == nil {
		template = string(data)
	}
	current := currentValues(template)

	result := &Result{Path: configPath}
	form := buildSetupForm(app, current, func(values map[string]string) error {
		if err := saveConfig(configPath, template, values); err != nil {
			return err
		}
		result.Saved = true
		return nil
	})

	app.SetRoot(form, true).SetFocus(form)
	if err := app.Run(); err != nil {
		return nil, fmt.Errorf("setup wizard: %w", err)
	}
	return result, nil
}

// buildSetupForm assembles the form pre-filled from the current
// configuration. onSave receives the label-keyed form values.
func buildSetupForm(app *tui.App, current map[string]string, onSave func(map[string]string) error) *components.Form {
	form := components.NewForm(app)

	form.AddInputFieldWithValidation(labelBaseDir, valueOr(current, "BASE_DIR", "/opt/hostsave"), 40,
		requireNonEmpty(labelBaseDir), requireAbsolutePath(labelBaseDir))
	form.AddInputFieldWithValidation(labelBackupPath, valueOr(current, "BACKUP_PATH", ""), 40)
	form.AddInputFieldWithValidation(labelSources, valueOr(current, "ARCHIVE_SOURCES", "/etc /home /root /var/lib"), 60,
		requireNonEmpty(labelSources))
	form.AddInputFieldWithValidation(labelExcludes, valueOr(current, "EXCLUDE_PATTERNS", ""), 60)

	form.AddChoiceList(labelCompression, compressionOptions,
		indexOf(compressionOptions, valueOr(current, "COMPRESSION_TYPE", "zstd")))
	form.AddInputFieldWithValidation(labelRetentionDays, valueOr(current, "LOCAL_RETENTION_DAYS", "7"), 6,
		requirePositiveInt(labelRetentionDays))
	form.Form.AddCheckbox(labelEncrypt, utils.ParseBool(current["ENCRYPT_ARCHIVE"]), nil)

	form.Form.AddCheckbox(labelSecondary, utils.ParseBool(current["SECONDARY_ENABLED"]), nil)
	form.AddInputFieldWithValidation(labelSecondaryPath, valueOr(current, "SECONDARY_PATH", ""), 40)

	form.Form.AddCheckbox(labelCloud, utils.ParseBool(current["CLOUD_ENABLED"]), nil)
	form.AddChoiceList(labelCloudTool, cloudToolOptions,
		indexOf(cloudToolOptions, valueOr(current, "CLOUD_TOOL", "rclone")))
	form.AddInputFieldWithValidation(labelCloudRemote, valueOr(current, "CLOUD_REMOTE", ""), 40)

	form.Form.AddCheckbox(labelGotify, utils.ParseBool(current["GOTIFY_ENABLED"]), nil)
	form.AddInputFieldWithValidation(labelGotifyURL, valueOr(current, "GOTIFY_SERVER_URL", ""), 40)
	form.AddInputFieldWithValidation(labelGotifyToken, valueOr(current, "GOTIFY_TOKEN", ""), 40)

	form.SetOnSubmit(onSave)
	form.SetParentView(form)
	form.AddSubmitButton("Save")
	form.AddCancelButton("Cancel")
	form.SetBorderWithTitle("Backup Setup")
	return form
}

// currentValues extracts the KEY=VALUE pairs the wizard manages from an
// existing configuration file.
func currentValues(content string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		if utils.IsComment(line) {
			continue
		}
		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}
		values[key] = value
	}
	return values
}

// saveConfig applies the form values onto the template and writes the
// result. The wizard never drops keys it does not manage.
func saveConfig(path string, template string, values map[string]string) error {
	content := applyValues(template, values)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	return nil
}

// applyValues rewrites the managed keys in template with the submitted
// form values, quoting values that contain whitespace.
func applyValues(template string, values map[string]string) string {
	labels := make([]string, 0, len(values))
	for label := range values {
		if _, ok := envKeyForLabel[label]; ok {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)

	content := template
	for _, label := range labels {
		value := strings.TrimSpace(values[label])
		if strings.ContainsAny(value, " \t") {
			value = "\"" + value + "\""
		}
		content = utils.SetEnvValue(content, envKeyForLabel[label], value)
	}
	return content
}

func valueOr(values map[string]string, key, fallback string) string {
	if v, ok := values[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func indexOf(options []string, value string) int {
	for i, opt := range options {
		if opt == value {
			return i
		}
	}
	return 0
}

func requireNonEmpty(label string) components.ValidatorFunc {
	return func(value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be empty", label)
		}
		return nil
	}
}

func requireAbsolutePath(label string) components.ValidatorFunc {
	return func(value string) error {
		value = strings.TrimSpace(value)
		if value == "" {
			return nil
		}
		if !filepath.IsAbs(value) {
			return fmt.Errorf("%s must be an absolute path", label)
		}
		return nil
	}
}

func requirePositiveInt(label string) components.ValidatorFunc {
	return func(value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive number", label)
		}
		return nil
	}
}
