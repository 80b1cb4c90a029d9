package config

import (
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected default address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "parishops.db" {
		t.Fatalf("unexpected default database path %q", cfg.DatabasePath)
	}
	if cfg.SessionCookieName != "app_session" {
		t.Fatalf("unexpected default cookie name %q", cfg.SessionCookieName)
	}
	if cfg.DefaultLanguage != "en" {
		t.Fatalf("unexpected default language %q", cfg.DefaultLanguage)
	}
	if len(cfg.FallbackLanguages) != 2 || cfg.FallbackLanguages[0] != "en" || cfg.FallbackLanguages[1] != "pl" {
		t.Fatalf("unexpected fallback languages %v", cfg.FallbackLanguages)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected missing signing secret to fail")
	}
}

func TestLoadNormalizesFallbackLanguages(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")
	configViper.Set("language.fallbacks", " EN, de ,,fr ")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"en", "de", "fr"}
	if len(cfg.FallbackLanguages) != len(expected) {
		t.Fatalf("unexpected fallback languages %v", cfg.FallbackLanguages)
	}
	for index, language := range expected {
		if cfg.FallbackLanguages[index] != language {
			t.Fatalf("unexpected fallback languages %v", cfg.FallbackLanguages)
		}
	}
}
