package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"statushub/internal/config"
	"statushub/internal/constants"
	"statushub/internal/database"
	apperrors "statushub/internal/errors"
	"statushub/internal/models"
	"statushub/internal/retry"
	"statushub/internal/service"
	"statushub/internal/staging"
	"statushub/internal/tracing"
	"statushub/pkg/notification"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message content and senders)")
	configPath = flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("statushub %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting statushub")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogLevel(logger, cfg)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	backoff := retry.NewBackoff(retry.FromConfig(cfg.Retry))

	// Only connection errors are worth retrying; a bad schema stays bad.
	var db *database.Database
	err = backoff.RetryWithPredicate(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg.Database, logger)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	}, apperrors.IsRetryable)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Queued work must still reach the store after a shutdown signal.
	workCtx := service.WithVerbose(context.WithoutCancel(ctx), *verbose)

	worker := service.NewWorker(cfg.Listener.QueueSize, logger)
	worker.Start(workCtx)
	defer worker.Stop()

	notifier := service.NewNotifier(logger)
	stager := staging.New(db, logger)

	committer := service.NewCommitter(service.CommitterConfig{
		Queue:           stager,
		Worker:          worker,
		Notifier:        notifier,
		Debounce:        time.Duration(cfg.Commit.DebounceMs) * time.Millisecond,
		RedriveSchedule: cfg.Commit.RedriveSchedule,
		Backoff:         backoff,
		Logger:          logger,
	})
	notifier.OnAttach(committer.RequestDrain)
	if err := committer.Start(); err != nil {
		return fmt.Errorf("failed to start committer: %w", err)
	}
	defer committer.Stop()

	listener := service.NewListener(service.ListenerConfig{
		Normalizer: notification.NewNormalizer(cfg.Listener.AllowedApps),
		Worker:     worker,
		Store:      db,
		Stager:     stager,
		Drains:     committer,
		Notifier:   notifier,
		Mode:       cfg.Commit.Mode,
		Enabled:    cfg.Listener.Enabled,
		Logger:     logger,
	})
	logger.WithFields(logrus.Fields{
		service.LogFieldMode: cfg.Commit.Mode,
		"enabled":            cfg.Listener.Enabled,
		"allowed_apps":       cfg.Listener.AllowedApps,
	}).Info("Listener initialized")

	if *configPath != "" {
		watcher := config.NewConfigWatcher(*configPath, cfg, logger)
		watcher.OnConfigChange(config.LogLevelApplier(logger, *verbose))
		watcher.OnConfigChange(func(c *models.Config) {
			listener.SetEnabled(c.Listener.Enabled)
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	server := NewServer(cfg.Server, listener, db, notifier, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.WithError(err).Warn("Failed to notify systemd readiness")
	} else if sent {
		logger.Debug("Notified systemd readiness")
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.WithError(err).Debug("Failed to notify systemd stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func configureLogLevel(logger *logrus.Logger, cfg *models.Config) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - message content will be logged")
		return
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
