package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                  = "CODEROOM"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = "sqlite"
	defaultDatabasePath        = "coderoom.db"
	defaultLogLevel            = "info"
	defaultRealtimeBufferSize  = 64
	defaultAutosaveQuietPeriod = 2 * time.Second
	defaultSnapshotLimit       = 20
	defaultMaxSnapshotLimit    = 100
	defaultClientServerURL     = "http://127.0.0.1:8080"
	defaultClientUserName      = "Anonymous"
	defaultIdentityFileName    = "participant.json"
	defaultIdentityDirectory   = ".coderoom"
	supportedDriverSQLite      = "sqlite"
	supportedDriverPostgres    = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabaseDriver       string
	DatabasePath         string
	DatabaseDSN          string
	LogLevel             string
	RealtimeBufferSize   int
	DefaultSnapshotLimit int
	MaxSnapshotLimit     int
}

// ClientConfig captures configuration for participant commands.
type ClientConfig struct {
	ServerURL           string
	UserName            string
	IdentityPath        string
	LogLevel            string
	AutosaveQuietPeriod time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("realtime.buffer_size", defaultRealtimeBufferSize)
	configViper.SetDefault("autosave.quiet_period", defaultAutosaveQuietPeriod)
	configViper.SetDefault("snapshots.default_limit", defaultSnapshotLimit)
	configViper.SetDefault("snapshots.max_limit", defaultMaxSnapshotLimit)
	configViper.SetDefault("client.server_url", defaultClientServerURL)
	configViper.SetDefault("client.user_name", defaultClientUserName)
	configViper.SetDefault("client.identity_path", defaultIdentityPath())
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set are not overridden.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		RealtimeBufferSize:   configViper.GetInt("realtime.buffer_size"),
		DefaultSnapshotLimit: configViper.GetInt("snapshots.default_limit"),
		MaxSnapshotLimit:     configViper.GetInt("snapshots.max_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.DatabaseDriver {
	case supportedDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case supportedDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.RealtimeBufferSize <= 0 {
		return fmt.Errorf("realtime.buffer_size must be positive")
	}
	if c.DefaultSnapshotLimit <= 0 || c.MaxSnapshotLimit <= 0 {
		return fmt.Errorf("snapshots limits must be positive")
	}
	if c.DefaultSnapshotLimit > c.MaxSnapshotLimit {
		return fmt.Errorf("snapshots.default_limit exceeds snapshots.max_limit")
	}
	return nil
}

// LoadClient parses participant configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:           strings.TrimRight(strings.TrimSpace(configViper.GetString("client.server_url")), "/"),
		UserName:            strings.TrimSpace(configViper.GetString("client.user_name")),
		IdentityPath:        configViper.GetString("client.identity_path"),
		LogLevel:            configViper.GetString("log.level"),
		AutosaveQuietPeriod: configViper.GetDuration("autosave.quiet_period"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ClientConfig) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("client.server_url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("client.server_url must be an http or https url")
	}
	if strings.TrimSpace(c.IdentityPath) == "" {
		return fmt.Errorf("client.identity_path is required")
	}
	if c.AutosaveQuietPeriod <= 0 {
		return fmt.Errorf("autosave.quiet_period must be positive")
	}
	return nil
}

func defaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(defaultIdentityDirectory, defaultIdentityFileName)
	}
	return filepath.Join(home, defaultIdentityDirectory, defaultIdentityFileName)
}
