package redisconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pathway-labs/pathway-go/internal/platform/env"
)

type Config struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
	PoolSize    int
}

func ConfigFromEnv() (Config, error) {
	db, err := env.Int("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	pingTimeout, err := env.Duration("REDIS_PING_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	poolSize, err := env.Int("REDIS_POOL_SIZE", 10)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Addr:        env.String("REDIS_ADDR", "localhost:6379"),
		Password:    env.String("REDIS_PASSWORD", ""),
		DB:          db,
		PingTimeout: pingTimeout,
		PoolSize:    poolSize,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if c.DB < 0 {
		return errors.New("REDIS_DB must be >= 0")
	}
	if c.PingTimeout <= 0 {
		return errors.New("REDIS_PING_TIMEOUT must be positive")
	}
	if c.PoolSize < 1 {
		return errors.New("REDIS_POOL_SIZE must be >= 1")
	}
	return nil
}

func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}
