package objectstore

import (
	"errors"

	"github.com/pathway-labs/pathway-go/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketArchive string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("OBJECTSTORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("OBJECTSTORE_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("OBJECTSTORE_ACCESS_KEY", ""),
		SecretKey:     env.String("OBJECTSTORE_SECRET_KEY", ""),
		Region:        env.String("OBJECTSTORE_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketArchive: env.String("OBJECTSTORE_BUCKET_ARCHIVE", "pathway-completions"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("OBJECTSTORE_ENDPOINT is required")
	}
	if c.AccessKey == "" {
		return errors.New("OBJECTSTORE_ACCESS_KEY is required")
	}
	if c.SecretKey == "" {
		return errors.New("OBJECTSTORE_SECRET_KEY is required")
	}
	if c.BucketArchive == "" {
		return errors.New("OBJECTSTORE_BUCKET_ARCHIVE is required")
	}
	return nil
}
