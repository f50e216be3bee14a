package config

import (
	"testing"
	"time"
)

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "recovery", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "iss", JWTAudience: "aud"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "recovery", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Recovery.CycleInterval != time.Minute {
		t.Fatalf("expected default cycle interval, got %v", c.Recovery.CycleInterval)
	}
	if c.Recovery.LeaderLeaseTTL != 3*time.Minute {
		t.Fatalf("expected lease ttl derived from cycle interval, got %v", c.Recovery.LeaderLeaseTTL)
	}
	if c.SuperU.WebhookTolerance != 5*time.Minute {
		t.Fatalf("expected default webhook tolerance, got %v", c.SuperU.WebhookTolerance)
	}
}

func TestValidate_WebhookSecretRequiredWithAPIKey(t *testing.T) {
	c := Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "recovery"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Auth:   AuthConfig{JWTSecret: "secret"},
		SuperU: SuperUConfig{APIKey: "sk_test"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for api key without webhook secret")
	}
}
