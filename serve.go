package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsapp-pair-server/config"
	"whatsapp-pair-server/queue"
	"whatsapp-pair-server/server"
	"whatsapp-pair-server/session"
	"whatsapp-pair-server/whatsapp"
)

type serveFlags struct {
	configPath string
	listen     string
	dataDir    string
	publicURL  string
	logLevel   string
	resume     bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pairing HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&flags.dataDir, "data-dir", "", "directory holding session data (overrides config)")
	cmd.Flags().StringVar(&flags.publicURL, "public-url", "", "base URL used in download links (overrides config)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides config)")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "resume sessions found on disk at startup")
	return cmd
}

// loadConfig reads the config file, if any, and applies flags set on the
// command line on top of it
func loadConfig(cmd *cobra.Command, flags serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs := cmd.Flags()
	if fs.Changed("listen") {
		cfg.Listen = flags.listen
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = flags.dataDir
	}
	if fs.Changed("public-url") {
		cfg.PublicURL = flags.publicURL
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if fs.Changed("resume") {
		cfg.Resume = flags.resume
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	waLogger := waLog.Zerolog(logger.With().Str("component", "whatsmeow").Logger())

	registry, err := session.NewRegistry(cfg.DataDir)
	if err != nil {
		return err
	}

	supCfg := whatsapp.DefaultSupervisorConfig()
	supCfg.ConnectTimeout = cfg.ConnectTimeout
	supCfg.ReconnectInitial = cfg.Reconnect.InitialInterval
	supCfg.ReconnectMax = cfg.Reconnect.MaxInterval
	supCfg.NotifyOnPair = cfg.Notify()
	supCfg.PublicURL = cfg.PublicURL

	pairCfg := whatsapp.DefaultPairingConfig()
	pairCfg.Attempts = cfg.Pairing.Attempts
	pairCfg.Delay = cfg.Pairing.Delay
	pairCfg.ReadyTimeout = cfg.Pairing.ReadyTimeout

	managerLog := logger.With().Str("component", "sessions").Logger()
	manager := whatsapp.NewAccountManager(
		ctx,
		registry,
		whatsapp.NewSQLStore(waLogger.Sub("store")),
		whatsapp.NewWhatsmeowConnector(cfg.Pairing.ClientName, waLogger.Sub("client")),
		supCfg,
		whatsapp.NewPairer(pairCfg, logger.With().Str("component", "pairing").Logger()),
		managerLog,
	)
	manager.AbandonFailed = cfg.AbandonFailed
	defer func() {
		manager.StopAll()
		logger.Info().Msg("All sessions stopped")
	}()

	if err := startSessions(ctx, cfg, manager, logger); err != nil {
		return err
	}

	srv := server.New(manager, server.Options{
		Addr:      cfg.Listen,
		PublicURL: cfg.PublicURL,
		PairRate:  cfg.RateLimit.PerSecond,
		PairBurst: cfg.RateLimit.Burst,
		Logger:    logger,
	})
	return srv.Start(ctx)
}

// startSessions brings up the standing default session and, when enabled,
// every session already on disk
func startSessions(ctx context.Context, cfg *config.Config, manager *whatsapp.AccountManager, logger zerolog.Logger) error {
	if cfg.DefaultSession.Enabled {
		sess, err := manager.Registry().Ensure(cfg.DefaultSession.ID, "")
		if err != nil {
			return fmt.Errorf("default session: %w", err)
		}
		manager.Start(sess)
	}

	if !cfg.Resume {
		return nil
	}
	n, err := manager.Resume(ctx, queue.NewWorkerPool(cfg.ResumeWorkers))
	if err != nil {
		return fmt.Errorf("resume sessions: %w", err)
	}
	logger.Info().Int("sessions", n).Msg("Resumed sessions from disk")
	return nil
}
