package postgres

import (
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		t.Fatalf("idle conns %d exceed open conns %d", cfg.MaxIdleConns, cfg.MaxOpenConns)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	valid := Config{
		URL:          "postgres://localhost:5432/pathway",
		PingTimeout:  time.Second,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.URL = "" }},
		{"zero ping timeout", func(c *Config) { c.PingTimeout = 0 }},
		{"zero open conns", func(c *Config) { c.MaxOpenConns = 0 }},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 20 }},
		{"negative lifetime", func(c *Config) { c.ConnMaxLifetime = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
