package internal

import (
	"fmt"

	"github.com/hbomb79/Cadence/internal/api"
	"github.com/hbomb79/Cadence/internal/database"
	"github.com/hbomb79/Cadence/internal/identity"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/ilyakaznacheev/cleanenv"
)

// CadenceConfig is the struct used to contain the
// various user config supplied by file, or
// manually inside the code.
type CadenceConfig struct {
	Database    database.DatabaseConfig `yaml:"database" env-required:"true"`
	ObjectStore objectstore.Config      `yaml:"object_store"`
	Ingest      ingest.Config           `yaml:"ingest"`
	Identity    identity.Config         `yaml:"identity"`
	RestConfig  api.RestConfig          `yaml:"rest"`
	LogLevel    string                  `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`
}

// LoadFromFile loads a configuration file formatted in YAML in to the
// config. Values provided via the environment take precedence.
func (config *CadenceConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return nil
}

// LoadFromEnv populates the config using only environment variables and defaults
func (config *CadenceConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return nil
}
