package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PARISHOPS"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "parishops.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultLanguage          = "en"
	defaultFallbackLanguages = "en,pl"
)

// AppConfig captures runtime configuration for the consent API server.
type AppConfig struct {
	HTTPAddress       string
	SessionSigningKey string
	SessionCookieName string
	DatabasePath      string
	LogLevel          string
	DefaultLanguage   string
	FallbackLanguages []string
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
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("language.default", defaultLanguage)
	configViper.SetDefault("language.fallbacks", defaultFallbackLanguages)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		DefaultLanguage:   configViper.GetString("language.default"),
		FallbackLanguages: splitLanguages(configViper.GetString("language.fallbacks")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.DefaultLanguage) == "" {
		return fmt.Errorf("language.default is required")
	}
	return nil
}

func splitLanguages(raw string) []string {
	parts := strings.Split(raw, ",")
	languages := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			languages = append(languages, trimmed)
		}
	}
	return languages
}
