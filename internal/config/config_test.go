package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CheckoutTTL != 31*time.Minute {
		t.Fatalf("CheckoutTTL = %s", cfg.CheckoutTTL)
	}
	if cfg.EventsBackend != "none" {
		t.Fatalf("EventsBackend = %q", cfg.EventsBackend)
	}
	if cfg.BotEnabled() {
		t.Fatal("bot must be disabled without token")
	}
	if !strings.Contains(cfg.DatabaseDSN(), "sslmode=disable") {
		t.Fatalf("DSN = %s", cfg.DatabaseDSN())
	}
}

func TestLoadParsesAdminIDs(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_IDS", "1, 22 ,333")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AdminIDs) != 3 || cfg.AdminIDs[2] != 333 {
		t.Fatalf("AdminIDs = %v", cfg.AdminIDs)
	}
}

func TestLoadRejectsBadAdminIDs(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_IDS", "1,abc")

	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DBMaxConns:           10,
			DBMinConns:           1,
			CheckoutTTL:          time.Hour,
			StuckWithdrawalAfter: time.Minute,
			EventsBackend:        "none",
			RateLimitRequests:    5,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"ttl too short", func(c *Config) { c.CheckoutTTL = 10 * time.Minute }, false},
		{"ttl at provider minimum", func(c *Config) { c.CheckoutTTL = 30 * time.Minute }, false},
		{"ttl with slack", func(c *Config) { c.CheckoutTTL = MinCheckoutTTL }, true},
		{"ttl too long", func(c *Config) { c.CheckoutTTL = 25 * time.Hour }, false},
		{"unknown backend", func(c *Config) { c.EventsBackend = "nats" }, false},
		{"kafka without brokers", func(c *Config) { c.EventsBackend = "kafka" }, false},
		{"pool bounds", func(c *Config) { c.DBMinConns = 20 }, false},
		{"bot admins without hash", func(c *Config) {
			c.TelegramBotToken = "t"
			c.BotMaxInflight = 1
			c.BotUpdateTimeoutSeconds = 1
			c.AdminIDs = []int64{1}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
