package objectstore

import (
	"context"
	"fmt"
	"time"
)

type (
	Config struct {
		// Backend selects the implementation used; either 'local' or 's3'.
		Backend  string        `yaml:"backend" env:"OBJECT_STORE_BACKEND" env-default:"local"`
		GrantTTL time.Duration `yaml:"grant_ttl" env:"OBJECT_STORE_GRANT_TTL" env-default:"15m"`
		Local    LocalConfig   `yaml:"local"`
		S3       S3Config      `yaml:"s3"`
	}

	LocalConfig struct {
		// RootDir may begin with '~', which is expanded to the user's home directory
		RootDir string `yaml:"root_dir" env:"OBJECT_STORE_ROOT" env-default:"~/.cadence/objects"`

		// PublicBaseURL is the externally reachable URL of the upload sink exposed
		// by the REST gateway. Object keys are appended to it when granting uploads.
		PublicBaseURL string `yaml:"public_base_url" env:"OBJECT_STORE_PUBLIC_URL" env-default:"http://localhost:8080/api/cadence/v1/uploads"`
		SigningSecret string `yaml:"signing_secret" env:"OBJECT_STORE_SIGNING_SECRET"`
	}

	S3Config struct {
		Endpoint     string `yaml:"endpoint" env:"S3_ENDPOINT"`
		Region       string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
		Bucket       string `yaml:"bucket" env:"S3_BUCKET" env-default:"cadence-media"`
		AccessKey    string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey    string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		UseSSL       bool   `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"true"`
		CreateBucket bool   `yaml:"create_bucket" env:"S3_CREATE_BUCKET" env-default:"false"`
	}
)

const (
	LocalBackend = "local"
	S3Backend    = "s3"
)

// New constructs the Store described by the configuration
func New(ctx context.Context, config Config) (Store, error) {
	switch config.Backend {
	case LocalBackend:
		return NewLocalStore(config.Local, config.GrantTTL)
	case S3Backend:
		return NewS3Store(ctx, config.S3, config.GrantTTL)
	default:
		return nil, fmt.Errorf("unknown object store backend '%s'", config.Backend)
	}
}
