package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "MINIMART"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultCachePath       = "minimart-cache.db"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 30
)

// AppConfig captures runtime configuration for the identity API server.
type AppConfig struct {
	HTTPAddress     string
	BridgeBaseURL   string
	BridgeAppID     string
	DataServiceURL  string
	DataServiceKey  string
	CachePath       string
	SessionSecret   string
	SessionTokenTTL time.Duration
	LogLevel        string
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
	configViper.SetDefault("cache.path", defaultCachePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.token_ttl_minutes", defaultTokenTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		BridgeBaseURL:   configViper.GetString("bridge.base_url"),
		BridgeAppID:     configViper.GetString("bridge.app_id"),
		DataServiceURL:  configViper.GetString("data.base_url"),
		DataServiceKey:  configViper.GetString("data.api_key"),
		CachePath:       configViper.GetString("cache.path"),
		SessionSecret:   configViper.GetString("session.signing_secret"),
		SessionTokenTTL: time.Duration(configViper.GetInt("session.token_ttl_minutes")) * time.Minute,
		LogLevel:        configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.BridgeBaseURL) == "" {
		return fmt.Errorf("bridge.base_url is required")
	}
	if strings.TrimSpace(c.BridgeAppID) == "" {
		return fmt.Errorf("bridge.app_id is required")
	}
	if strings.TrimSpace(c.DataServiceURL) == "" {
		return fmt.Errorf("data.base_url is required")
	}
	if strings.TrimSpace(c.DataServiceKey) == "" {
		return fmt.Errorf("data.api_key is required")
	}
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("cache.path is required")
	}
	if c.SessionTokenTTL <= 0 {
		return fmt.Errorf("session.token_ttl_minutes must be positive")
	}
	return nil
}
