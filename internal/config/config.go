package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gregtusar/botdash/pkg/secrets"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Market   MarketConfig   `mapstructure:"market"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Sizing   SizingConfig   `mapstructure:"sizing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type BackendConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	WSURL     string        `mapstructure:"ws_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

type AuthConfig struct {
	Token string `mapstructure:"token"`
}

type StreamConfig struct {
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
}

type MarketConfig struct {
	QuoteCurrency string `mapstructure:"quote_currency"`
	TopN          int    `mapstructure:"top_n"`
}

type SignalsConfig struct {
	RefreshDebounce time.Duration `mapstructure:"refresh_debounce"`
}

type SizingConfig struct {
	MinNotional              float64 `mapstructure:"min_notional"`
	DefaultPositionPercent   float64 `mapstructure:"default_position_percent"`
	DefaultStopLossPercent   float64 `mapstructure:"default_stop_loss_percent"`
	DefaultTakeProfitPercent float64 `mapstructure:"default_take_profit_percent"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/botdash")
	}

	v.SetEnvPrefix("BOTDASH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		sm, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
		if err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
		defer sm.Close()
		ApplySecrets(ctx, &config, sm)
		logger.Info("Successfully loaded secrets from GCP Secret Manager")
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)

	v.SetDefault("backend.api_url", "http://localhost:3002")
	v.SetDefault("backend.ws_url", "http://localhost:3002")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.rate_limit", 10.0)
	v.SetDefault("backend.burst", 5)

	v.SetDefault("auth.token", "")

	v.SetDefault("stream.reconnect_attempts", 10)
	v.SetDefault("stream.reconnect_delay", 3*time.Second)
	v.SetDefault("stream.handshake_timeout", 10*time.Second)

	v.SetDefault("market.quote_currency", "idr")
	v.SetDefault("market.top_n", 10)

	v.SetDefault("signals.refresh_debounce", time.Duration(0))

	v.SetDefault("sizing.min_notional", 50000.0)
	v.SetDefault("sizing.default_position_percent", 10.0)
	v.SetDefault("sizing.default_stop_loss_percent", 5.0)
	v.SetDefault("sizing.default_take_profit_percent", 10.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")
	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.session_token", secretNames.SessionToken)
	v.SetDefault("gcp.secret_names.telegram_bot_token", secretNames.TelegramBotToken)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
}

func overrideFromEnv(config *Config) {
	if token := os.Getenv("BOTDASH_TOKEN"); token != "" {
		config.Auth.Token = token
	}
	if apiURL := os.Getenv("BOTDASH_API_URL"); apiURL != "" {
		config.Backend.APIURL = apiURL
	}
	if wsURL := os.Getenv("BOTDASH_WS_URL"); wsURL != "" {
		config.Backend.WSURL = wsURL
	}

	if botToken := os.Getenv("TELEGRAM_BOT_TOKEN"); botToken != "" {
		config.Telegram.BotToken = botToken
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

// ApplySecrets fills credentials that are still empty from src.
func ApplySecrets(ctx context.Context, config *Config, src secrets.Source) {
	if config.Auth.Token == "" {
		config.Auth.Token = src.GetSecretWithDefault(ctx, config.GCP.SecretNames.SessionToken, "")
	}
	if config.Telegram.BotToken == "" {
		config.Telegram.BotToken = src.GetSecretWithDefault(ctx, config.GCP.SecretNames.TelegramBotToken, "")
	}
}

func (c *Config) Validate() error {
	if c.Backend.APIURL == "" {
		return fmt.Errorf("backend.api_url must not be empty")
	}
	if c.Backend.WSURL == "" {
		return fmt.Errorf("backend.ws_url must not be empty")
	}
	if c.Stream.ReconnectAttempts <= 0 {
		return fmt.Errorf("stream.reconnect_attempts must be positive, got %d", c.Stream.ReconnectAttempts)
	}
	if c.Stream.ReconnectDelay < 0 {
		return fmt.Errorf("stream.reconnect_delay must not be negative")
	}
	if c.Market.TopN < 1 {
		return fmt.Errorf("market.top_n must be at least 1, got %d", c.Market.TopN)
	}
	if c.Sizing.MinNotional < 0 {
		return fmt.Errorf("sizing.min_notional must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}
