package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregtusar/botdash/api"
	"github.com/gregtusar/botdash/internal/config"
	"github.com/gregtusar/botdash/pkg/backend"
	"github.com/gregtusar/botdash/pkg/dashboard"
	"github.com/gregtusar/botdash/pkg/notify"
	"github.com/gregtusar/botdash/pkg/sizing"
	"github.com/gregtusar/botdash/pkg/stream"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	planMode string
	logger   *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "botdash",
		Short: "Operator dashboard for the crypto trading bot",
		Long:  `Streams market and signal updates from the bot backend, values open positions and sizes pending signals for approval`,
		Run:   runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	planCmd := &cobra.Command{
		Use:   "plan <signal-id>",
		Short: "Print the execution plan for a pending signal",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	planCmd.Flags().StringVar(&planMode, "mode", "ai", "stop-loss/take-profit source: ai or user")

	approveCmd := &cobra.Command{
		Use:   "approve <signal-id>",
		Short: "Approve a pending signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *dashboard.Dashboard) error {
				return d.Approve(ctx, args[0])
			})
		},
	}

	rejectCmd := &cobra.Command{
		Use:   "reject <signal-id>",
		Short: "Reject a pending signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *dashboard.Dashboard) error {
				return d.Reject(ctx, args[0])
			})
		},
	}

	botCmd := &cobra.Command{
		Use:       "bot start|stop",
		Short:     "Start or stop the trading bot",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "stop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *dashboard.Dashboard) error {
				if args[0] == "start" {
					return d.StartBot(ctx)
				}
				return d.StopBot(ctx)
			})
		},
	}

	rootCmd.AddCommand(planCmd, approveCmd, rejectCmd, botCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) {
	logger = logrus.New()
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.WithError(err).Error("Failed to open log file, logging to stdout only")
			return
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, f))
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	if cfg.Auth.Token != "" && backend.TokenExpired(cfg.Auth.Token, time.Now()) {
		logger.Warn("Session token has expired, log in again to refresh it")
		cfg.Auth.Token = ""
	}
	return cfg
}

func buildDashboard(cfg *config.Config) *dashboard.Dashboard {
	transport := stream.NewTransport(stream.Options{
		URL:               cfg.Backend.WSURL,
		Token:             cfg.Auth.Token,
		ReconnectAttempts: cfg.Stream.ReconnectAttempts,
		ReconnectDelay:    cfg.Stream.ReconnectDelay,
		HandshakeTimeout:  cfg.Stream.HandshakeTimeout,
	}, logger)

	client := backend.NewHTTPClient(backend.Options{
		BaseURL:   cfg.Backend.APIURL,
		Timeout:   cfg.Backend.Timeout,
		RateLimit: cfg.Backend.RateLimit,
		Burst:     cfg.Backend.Burst,
		OnUnauthorized: func() {
			// The stream would keep redialing with the rejected token.
			transport.SetToken("")
			transport.Disconnect()
		},
	}, backend.NewBearerAuthenticator(cfg.Auth.Token), logger)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Market.QuoteCurrency, logger)
		if err != nil {
			logger.WithError(err).Error("Telegram notifications disabled")
		} else {
			notifier = tg
		}
	}

	policy := sizing.Policy{
		Quote:                    cfg.Market.QuoteCurrency,
		MinNotional:              decimal.NewFromFloat(cfg.Sizing.MinNotional),
		DefaultPositionPercent:   decimal.NewFromFloat(cfg.Sizing.DefaultPositionPercent),
		DefaultStopLossPercent:   decimal.NewFromFloat(cfg.Sizing.DefaultStopLossPercent),
		DefaultTakeProfitPercent: decimal.NewFromFloat(cfg.Sizing.DefaultTakeProfitPercent),
	}

	return dashboard.New(client, transport, notifier, dashboard.Config{
		Quote:           cfg.Market.QuoteCurrency,
		TopN:            cfg.Market.TopN,
		RefreshDebounce: cfg.Signals.RefreshDebounce,
		Policy:          policy,
	}, logger)
}

// withDashboard runs a one-shot command against freshly loaded REST state.
// No stream connection is opened.
func withDashboard(ctx context.Context, fn func(context.Context, *dashboard.Dashboard) error) error {
	cfg := loadConfig()
	d := buildDashboard(cfg)
	defer d.Stop()

	if err := d.Load(ctx); err != nil {
		logger.WithError(err).Warn("Partial data loaded")
	}
	return fn(ctx, d)
}

func runPlan(cmd *cobra.Command, args []string) error {
	mode, err := sizing.ParseMode(planMode)
	if err != nil {
		return err
	}
	return withDashboard(cmd.Context(), func(ctx context.Context, d *dashboard.Dashboard) error {
		plan, err := d.Plan(ctx, args[0], mode)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	})
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := buildDashboard(cfg)
	if err := d.Start(ctx); err != nil {
		logger.WithError(err).Warn("Dashboard started with incomplete data")
	}

	apiServer := api.NewServer(d, logger, fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Dashboard is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown failed")
	}
	d.Logout()
	cancel()

	logger.Info("Dashboard stopped")
}
