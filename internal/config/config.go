// Package config loads and exposes application configuration (TOML).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultStorageDriver     = "sqlite"
	DefaultStoragePath       = "data/supportbot"
	DefaultPollTimeout       = 30
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "supportbot"
	DefaultPGSSLMode         = "disable"
	DefaultDirectoryProvider = "static"
	DefaultAirtableBaseURL   = "https://api.airtable.com"
	DefaultAirtablePhone     = "Phone"
	DefaultAirtableName      = "Name"
	DefaultAirtableRate      = 5.0
	DefaultAirtableTimeout   = 10

	// TokenEnv overrides telegram.bot_token so the secret can stay out of the file.
	TokenEnv = "TELEGRAM_BOT_TOKEN"
)

// Storage drivers accepted by storage.driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
)

// Directory providers accepted by directory.provider.
const (
	ProviderAirtable = "airtable"
	ProviderStatic   = "static"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Directory DirectoryConfig `toml:"directory"`
	Server    ServerConfig    `toml:"server"`
	Digest    DigestConfig    `toml:"digest"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TelegramConfig holds the bot token and the support chat that receives forwarded messages.
type TelegramConfig struct {
	BotToken      string `toml:"bot_token" validate:"required"`
	SupportChatID int64  `toml:"support_chat_id" validate:"required"`
	PollTimeout   int    `toml:"poll_timeout" validate:"gte=0"`
	Debug         bool   `toml:"debug"`
}

// StorageConfig selects the record store driver. Path is used by the sqlite and badger drivers.
type StorageConfig struct {
	Driver string `toml:"driver" validate:"oneof=postgres sqlite badger"`
	Path   string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DirectoryConfig selects the phone directory used to recognise customers.
type DirectoryConfig struct {
	Provider string            `toml:"provider" validate:"oneof=static airtable"`
	Airtable AirtableConfig    `toml:"airtable"`
	Static   map[string]string `toml:"static"`
}

// AirtableConfig holds the Airtable base, table and field names of the customer directory.
type AirtableConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	BaseID         string  `toml:"base_id"`
	Table          string  `toml:"table"`
	PhoneField     string  `toml:"phone_field"`
	NameField      string  `toml:"name_field"`
	RateLimit      float64 `toml:"rate_limit"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// ServerConfig holds the admin HTTP listen address and the token guarding /api.
type ServerConfig struct {
	Addr       string `toml:"addr"`
	AdminToken string `toml:"admin_token"`
}

// DigestConfig holds the cron schedule of the unanswered digest. Empty disables it.
type DigestConfig struct {
	Schedule string `toml:"schedule"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telegram: TelegramConfig{
			PollTimeout: DefaultPollTimeout,
		},
		Storage: StorageConfig{
			Driver: DefaultStorageDriver,
			Path:   DefaultStoragePath,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Directory: DirectoryConfig{
			Provider: DefaultDirectoryProvider,
			Airtable: AirtableConfig{
				BaseURL:        DefaultAirtableBaseURL,
				PhoneField:     DefaultAirtablePhone,
				NameField:      DefaultAirtableName,
				RateLimit:      DefaultAirtableRate,
				TimeoutSeconds: DefaultAirtableTimeout,
			},
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Directory.Provider = strings.ToLower(strings.TrimSpace(cfg.Directory.Provider))

	return cfg, nil
}

// envOverrides lists settings that may come from the environment instead of the file.
type envOverrides struct {
	BotToken      string `envconfig:"TELEGRAM_BOT_TOKEN"`
	SupportChatID int64  `envconfig:"SUPPORT_CHAT_ID"`
	AdminToken    string `envconfig:"ADMIN_TOKEN"`
	AirtableKey   string `envconfig:"AIRTABLE_API_KEY"`
	PostgresPass  string `envconfig:"POSTGRES_PASSWORD"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if v := strings.TrimSpace(env.BotToken); v != "" {
		cfg.Telegram.BotToken = v
	}
	if env.SupportChatID != 0 {
		cfg.Telegram.SupportChatID = env.SupportChatID
	}
	if v := strings.TrimSpace(env.AdminToken); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := strings.TrimSpace(env.AirtableKey); v != "" {
		cfg.Directory.Airtable.APIKey = v
	}
	if env.PostgresPass != "" {
		cfg.Postgres.Password = env.PostgresPass
	}
	return nil
}

var validate = validator.New()

// Validate checks the settings the bot needs to run. Admin commands only need a store and skip it.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return err
	}
	msgs := make([]string, 0, len(invalid))
	for _, fe := range invalid {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
