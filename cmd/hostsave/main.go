package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/hostsave/hostsave/internal/checks"
	"github.com/hostsave/hostsave/internal/cli"
	"github.com/hostsave/hostsave/internal/config"
	"github.com/hostsave/hostsave/internal/dns"
	"github.com/hostsave/hostsave/internal/environment"
	"github.com/hostsave/hostsave/internal/execx"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/metrics"
	"github.com/hostsave/hostsave/internal/notify"
	"github.com/hostsave/hostsave/internal/orchestrator"
	"github.com/hostsave/hostsave/internal/security"
	"github.com/hostsave/hostsave/internal/storage"
	"github.com/hostsave/hostsave/internal/tui/wizard"
	"github.com/hostsave/hostsave/internal/types"
	"github.com/hostsave/hostsave/internal/version"
)

const defaultDirPerm = 0o755

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := logging.NewBootstrapLogger()

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(types.ExitPanicError.Int())
		}
	}()

	// Signal handling: cancel the run context so in-flight operations
	// wind down. Partial artifacts are left on disk on purpose.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		bootstrap.Warning("\nReceived signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()

	args := cli.Parse()

	if args.ShowVersion {
		cli.ShowVersion()
		return types.ExitSuccess.Int()
	}
	if args.ShowHelp {
		cli.ShowHelp()
		return types.ExitSuccess.Int()
	}

	if args.Setup {
		return runSetup(ctx, args.ConfigPath, bootstrap)
	}

	bootstrap.Printf("Loading configuration from: %s (%s)", args.ConfigPath, args.ConfigPathSource)
	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		bootstrap.Error("ERROR: Failed to load configuration: %v", err)
		bootstrap.Println("Run with --setup to generate one interactively.")
		return types.ExitConfigError.Int()
	}
	if args.DryRun {
		cfg.DryRun = true
	}
	if args.Parallel {
		cfg.ParallelJobs = true
	}

	if args.NewKey {
		return runNewKey(ctx, cfg, bootstrap)
	}

	// CLI log level wins over the configured one.
	logLevel := cfg.DebugLevel
	if args.LogLevel != types.LogLevelNone {
		logLevel = args.LogLevel
	}

	logger := logging.New(logLevel, cfg.UseColor)
	logging.SetDefaultLogger(logger)
	bootstrap.SetLevel(logLevel)

	envInfo := environment.Detect()
	hostname := envInfo.Hostname
	if hostname == "" {
		hostname = "host"
	}
	startTime := time.Now()

	if args.DNSUpdate {
		return runDNSUpdate(ctx, cfg, logger)
	}

	// Session log file next to the backups.
	if strings.TrimSpace(cfg.LogPath) == "" {
		logger.Warning("LOG_PATH is empty, file logging disabled, using stdout only")
	} else {
		logFileName := fmt.Sprintf("backup-%s-%s.log", hostname, startTime.Format("20060102-150405"))
		logFilePath := filepath.Join(cfg.LogPath, logFileName)
		if err := os.MkdirAll(cfg.LogPath, defaultDirPerm); err != nil {
			logger.Warning("Failed to create log directory %s: %v", cfg.LogPath, err)
		} else if err := logger.OpenLogFile(logFilePath); err != nil {
			logger.Warning("Failed to open log file %s: %v", logFilePath, err)
		} else {
			logger.Info("Log file opened: %s", logFilePath)
		}
	}
	defer func() { _ = logger.CloseLogFile() }()

	// Replay early bootstrap output now that the session log exists.
	bootstrap.Flush(logger)

	logger.Info("HostSave %s on %s", version.String(), hostname)
	if envInfo.DistroName != "" {
		logger.Info("Distribution: %s (kernel %s)", envInfo.DistroName, envInfo.Kernel)
	}
	if cfg.DryRun {
		logger.Info("DRY RUN MODE: no changes will be made")
	}

	if !cfg.SkipPermissionCheck {
		if err := environment.RequireRoot(); err != nil {
			logger.Warning("%v; files not readable by this user will be skipped", err)
		}
	}

	execPath, _ := os.Executable()
	if _, err := security.Run(logger, cfg, args.ConfigPath, execPath); err != nil {
		logger.Error("Environment audit failed: %v", err)
		return types.ExitEnvironmentError.Int()
	}

	checkerCfg := checks.CheckerConfig{
		BackupPath:          cfg.BackupPath,
		LogPath:             cfg.LogPath,
		SecondaryPath:       cfg.SecondaryPath,
		SecondaryEnabled:    cfg.SecondaryEnabled,
		MinFreeSpacePercent: cfg.MinFreeSpacePercent,
		SafetyFactor:        cfg.SafetyFactor,
		LockDirPath:         cfg.LockPath,
		SkipPermissionCheck: cfg.SkipPermissionCheck,
		DryRun:              cfg.DryRun,
	}
	if err := checkerCfg.Validate(); err != nil {
		logger.Error("Invalid checker configuration: %v", err)
		return types.ExitConfigError.Int()
	}
	checker := checks.New(checkerCfg, logger)

	if args.CheckOnly {
		return runCheckOnly(checker, logger)
	}

	orch := orchestrator.New(cfg, logger, orchestrator.Deps{})
	orch.SetVersion(version.String())
	orch.SetHostname(hostname)
	orch.SetDistro(distroLabel(envInfo))
	orch.SetChecker(checker)
	orch.SetStartTime(startTime)
	defer orch.ReleaseLock()

	registerStorageTargets(orch, cfg, logger)
	registerNotifiers(orch, cfg, logger)

	if !cfg.BackupEnabled {
		logger.Warning("Backup is disabled in configuration (BACKUP_ENABLED=false)")
		return types.ExitSuccess.Int()
	}

	logger.Phase("Pre-backup checks")
	if err := orch.RunPreBackupChecks(); err != nil {
		logger.Error("Pre-backup validation failed: %v", err)
		return exitCodeOf(err, types.ExitBackupError)
	}

	logger.Phase("Backup run")
	stats, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Warning("Backup was interrupted")
		} else {
			logger.Error("Backup failed: %v", err)
		}
	}

	if stats != nil {
		if reportPath, rerr := orch.SaveReport(stats); rerr != nil {
			logger.Warning("Failed to persist run report: %v", rerr)
		} else if reportPath != "" {
			logger.Info("Run report saved to %s", reportPath)
		}

		if cfg.MetricsEnabled {
			exporter := metrics.NewPrometheusExporter(cfg.MetricsPath, logger)
			if merr := exporter.Export(stats); merr != nil {
				logger.Warning("Failed to export metrics: %v", merr)
			}
		}

		orch.Notify(ctx, stats)

		switch {
		case logger.HasErrors():
			logger.Info("Run finished with %d error(s) and %d warning(s)",
				logger.ErrorCount(), logger.WarningCount())
		case logger.HasWarnings():
			logger.Info("Run finished with %d warning(s)", logger.WarningCount())
		}

		return stats.ExitCode
	}

	return exitCodeOf(err, types.ExitBackupError)
}

func runSetup(ctx context.Context, configPath string, bootstrap *logging.BootstrapLogger) int {
	sessionLogger, cleanup := startFlowSessionLog("setup", bootstrap)
	defer cleanup()
	if sessionLogger != nil {
		sessionLogger.Info("Starting --setup (config=%s)", configPath)
	}

	result, err := wizard.Run(ctx, configPath)
	if err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}
	if !result.Saved {
		bootstrap.Println("Setup cancelled; configuration unchanged.")
		return types.ExitSuccess.Int()
	}
	bootstrap.Printf("Configuration written to %s", result.Path)
	bootstrap.Println("Review the file and run a --dry-run to validate the settings.")
	return types.ExitSuccess.Int()
}

func runCheckOnly(checker *checks.Checker, logger *logging.Logger) int {
	defer checker.ReleaseLock()

	results, err := checker.RunAll()
	for _, result := range results {
		if result.Passed {
			logger.Info("✓ %s: %s", result.Name, result.Message)
		} else {
			logger.Warning("✗ %s: %s", result.Name, result.Message)
		}
	}
	if err != nil {
		logger.Error("Pre-backup checks failed: %v", err)
		for _, result := range results {
			if !result.Passed && result.Severity == types.SeverityFatal {
				return result.Code.Int()
			}
		}
		return types.ExitBackupError.Int()
	}
	logger.Info("All checks passed")
	return types.ExitSuccess.Int()
}

func runDNSUpdate(ctx context.Context, cfg *config.Config, logger *logging.Logger) int {
	updater, err := dns.NewUpdater(dns.Config{
		Enabled:          cfg.DNSUpdateEnabled,
		APIToken:         cfg.CFAPIToken,
		ZoneID:           cfg.CFZoneID,
		Records:          cfg.DNSRecords,
		TTL:              cfg.DNSRecordTTL,
		PublicIPEndpoint: cfg.PublicIPEndpoint,
	}, logger)
	if err != nil {
		logger.Error("DNS updater: %v", err)
		return types.ExitConfigError.Int()
	}
	if !updater.IsEnabled() {
		logger.Warning("DNS updates are disabled (DNS_UPDATE_ENABLED=false)")
		return types.ExitConfigError.Int()
	}

	result, err := updater.Run(ctx)
	if err != nil {
		logger.Error("DNS update failed: %v", err)
		return types.ExitNetworkError.Int()
	}
	logger.Info("Public IP: %s", result.PublicIP)
	logger.Info("DNS records: %d updated, %d up to date, %d missing, %d failed",
		len(result.Updated), len(result.UpToDate), len(result.Missing), len(result.Failed))
	return types.ExitSuccess.Int()
}

func registerStorageTargets(orch *orchestrator.Orchestrator, cfg *config.Config, logger *logging.Logger) {
	runner := execx.NewOSRunner()

	local := storage.NewLocalStorage(cfg.BackupPath,
		retentionConfig(cfg, cfg.LocalRetentionDays), logger)
	orch.RegisterStorage(local)
	logger.Info("Local storage: %s", cfg.BackupPath)

	secondary := storage.NewSecondaryStorage(cfg.SecondaryPath, cfg.SecondaryEnabled,
		cfg.RsyncFlags, retentionConfig(cfg, cfg.SecondaryRetentionDays), runner, logger)
	if secondary.IsEnabled() {
		logger.Info("Secondary storage: %s", cfg.SecondaryPath)
	} else {
		logger.Skip("Secondary storage: disabled")
	}
	orch.RegisterStorage(secondary)

	if cfg.CloudEnabled {
		cloud := storage.NewCloudStorage(buildCloudConfig(cfg), runner, logger)
		if cloud.IsEnabled() {
			logger.Info("Cloud storage: %s", cloud.Name())
		} else {
			logger.Warning("Cloud storage enabled but no remote/repository configured")
		}
		orch.RegisterStorage(cloud)
	} else {
		logger.Skip("Cloud storage: disabled")
	}
}

func buildCloudConfig(cfg *config.Config) storage.CloudConfig {
	remote := cfg.CloudRemote
	if cfg.CloudRemotePath != "" {
		remote = strings.TrimSuffix(remote, "/") + "/" + cfg.CloudRemotePath
	}

	var rcloneArgs []string
	if cfg.RcloneBandwidth != "" {
		rcloneArgs = append(rcloneArgs, "--bwlimit", cfg.RcloneBandwidth)
	}
	if cfg.RcloneTransfers > 0 {
		rcloneArgs = append(rcloneArgs, "--transfers", fmt.Sprintf("%d", cfg.RcloneTransfers))
	}
	rcloneArgs = append(rcloneArgs, cfg.RcloneFlags...)

	return storage.CloudConfig{
		Tool:            storage.CloudTool(cfg.CloudTool),
		Remote:          remote,
		Repository:      cfg.ResticRepository,
		PasswordCommand: cfg.ResticPasswordCmd,
		RcloneArgs:      rcloneArgs,
		RetryCount:      cfg.CloudRetryCount,
		RetryDelay:      time.Duration(cfg.CloudRetryDelay) * time.Second,
		Timeout:         time.Duration(cfg.CloudTimeout) * time.Second,
		Retention:       retentionConfig(cfg, cfg.CloudRetentionDays),
	}
}

func retentionConfig(cfg *config.Config, maxAgeDays int) storage.RetentionConfig {
	return storage.RetentionConfig{
		Policy:      storage.RetentionPolicy(cfg.RetentionPolicy),
		MaxAgeDays:  maxAgeDays,
		KeepDaily:   cfg.RetentionDaily,
		KeepWeekly:  cfg.RetentionWeekly,
		KeepMonthly: cfg.RetentionMonthly,
		KeepYearly:  cfg.RetentionYearly,
	}
}

func registerNotifiers(orch *orchestrator.Orchestrator, cfg *config.Config, logger *logging.Logger) {
	if cfg.GotifyEnabled {
		gotify, err := notify.NewGotifyNotifier(notify.GotifyConfig{
			Enabled:         true,
			ServerURL:       cfg.GotifyServerURL,
			Token:           cfg.GotifyToken,
			PrioritySuccess: cfg.GotifyPrioritySuccess,
			PriorityWarning: cfg.GotifyPriorityWarning,
			PriorityFailure: cfg.GotifyPriorityFailure,
		}, logger)
		if err != nil {
			logger.Warning("Failed to initialize Gotify notifier: %v", err)
		} else {
			orch.RegisterNotifier(gotify)
			logger.Info("Gotify notifications enabled")
		}
	} else {
		logger.Skip("Gotify: disabled")
	}

	if cfg.TelegramEnabled {
		telegram, err := notify.NewTelegramNotifier(notify.TelegramConfig{
			Enabled:  true,
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		}, logger)
		if err != nil {
			logger.Warning("Failed to initialize Telegram notifier: %v", err)
		} else {
			orch.RegisterNotifier(telegram)
			logger.Info("Telegram notifications enabled")
		}
	} else {
		logger.Skip("Telegram: disabled")
	}

	if cfg.WebhookEnabled {
		webhookCfg := cfg.BuildWebhookConfig()
		webhook, err := notify.NewWebhookNotifier(webhookCfg, logger)
		if err != nil {
			logger.Warning("Failed to initialize webhook notifier: %v", err)
		} else {
			orch.RegisterNotifier(webhook)
			logger.Info("Webhook notifications enabled (%d endpoint(s))", len(webhookCfg.Endpoints))
		}
	} else {
		logger.Skip("Webhook: disabled")
	}
}

func distroLabel(info *environment.Info) string {
	if info == nil {
		return ""
	}
	if info.DistroName != "" {
		return info.DistroName
	}
	return info.DistroID
}

func exitCodeOf(err error, fallback types.ExitCode) int {
	var backupErr *orchestrator.BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Code.Int()
	}
	if err == nil {
		return types.ExitSuccess.Int()
	}
	return fallback.Int()
}
