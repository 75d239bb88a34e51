package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "MERIDIAN"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "meridian.db"
	defaultLogLevel      = "info"
	defaultSyncPageSize  = 50
	defaultTokenTTL      = 24 * time.Hour
	defaultQueuePath     = "meridian-agent.db"
	defaultDrainInterval = 5 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration
	SyncPageSize  int
}

// AgentConfig captures runtime configuration for the device agent.
type AgentConfig struct {
	ServerURL     string
	AccessToken   string
	WorkspaceID   string
	DeviceID      string
	QueuePath     string
	DrainInterval time.Duration
	LogLevel      string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("sync.page_size", defaultSyncPageSize)
	configViper.SetDefault("agent.queue_path", defaultQueuePath)
	configViper.SetDefault("agent.drain_interval", defaultDrainInterval)
}

// Load parses server runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),
		SyncPageSize:  configViper.GetInt("sync.page_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadAgent parses device agent configuration from viper.
func LoadAgent(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		ServerURL:     configViper.GetString("agent.server_url"),
		AccessToken:   configViper.GetString("agent.access_token"),
		WorkspaceID:   configViper.GetString("agent.workspace_id"),
		DeviceID:      configViper.GetString("agent.device_id"),
		QueuePath:     configViper.GetString("agent.queue_path"),
		DrainInterval: configViper.GetDuration("agent.drain_interval"),
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AgentConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SyncPageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive")
	}
	return nil
}

func (c AgentConfig) validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("agent.access_token is required")
	}
	if strings.TrimSpace(c.WorkspaceID) == "" {
		return fmt.Errorf("agent.workspace_id is required")
	}
	if strings.TrimSpace(c.QueuePath) == "" {
		return fmt.Errorf("agent.queue_path is required")
	}
	if c.DrainInterval <= 0 {
		return fmt.Errorf("agent.drain_interval must be positive")
	}
	return nil
}
