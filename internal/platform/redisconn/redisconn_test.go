package redisconn

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
}

func TestConfigValidateRejections(t *testing.T) {
	valid := Config{Addr: "localhost:6379", PingTimeout: time.Second, PoolSize: 10}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing addr", func(c *Config) { c.Addr = "" }},
		{"negative db", func(c *Config) { c.DB = -1 }},
		{"zero ping timeout", func(c *Config) { c.PingTimeout = 0 }},
		{"zero pool", func(c *Config) { c.PoolSize = 0 }},
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
