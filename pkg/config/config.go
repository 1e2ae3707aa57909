// Package config loads the process configuration from the environment and
// an optional JSON file.
package config

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/pkg/errors"
)

// EnvPrefix is prepended, with an underscore, to every environment variable.
const EnvPrefix = "SERVICEBUS"

// DefaultFile is read when present in the working directory.
const DefaultFile = "servicebus.json"

// Config contains all of the configuration for running the demo.
type Config struct {
	ConnectionString string        `env:"CONNECTION_STRING" json:"connection_string"`
	QueueName        string        `env:"QUEUE_NAME" json:"queue_name"`
	Backend          string        `env:"BACKEND" json:"backend" default:"servicebus"`
	ContentType      string        `env:"CONTENT_TYPE" json:"content_type" default:"application/json"`
	MaxConcurrent    int           `env:"MAX_CONCURRENT" json:"max_concurrent" default:"1"`
	MaxMessages      int           `env:"MAX_MESSAGES" json:"max_messages" default:"1"`
	HTTPAddress      string        `env:"HTTP_ADDRESS" json:"http_address"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" json:"shutdown_timeout" default:"10s"`
	Debug            bool          `env:"DEBUG" json:"debug"`
}

// Load reads the configuration from files, in order, and then from the
// environment, which takes precedence. Missing files are skipped.
//
// The result is validated before it is returned.
func Load(files ...string) (*Config, error) {
	cfg := Config{}

	err := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:          true,
		EnvPrefix:          EnvPrefix,
		AllowUnknownEnvs:   true,
		AllowUnknownFields: true,
		Files:              files,
	}).Load()
	if err != nil {
		return nil, errors.Wrap(err, "unable to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the required values are set.
func (c *Config) Validate() error {
	if c.ConnectionString == "" {
		return errors.Errorf("missing %s_CONNECTION_STRING", EnvPrefix)
	}
	if c.QueueName == "" {
		return errors.Errorf("missing %s_QUEUE_NAME", EnvPrefix)
	}
	if c.MaxConcurrent < 1 {
		return errors.Errorf("%s_MAX_CONCURRENT must be at least 1", EnvPrefix)
	}
	if c.MaxMessages < 1 {
		return errors.Errorf("%s_MAX_MESSAGES must be at least 1", EnvPrefix)
	}
	return nil
}
