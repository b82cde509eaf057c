// Package config reads the AOTGRAPH_* environment, optionally seeded from
// a .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sbl8/aotgraph/aot"
	"github.com/sbl8/aotgraph/logging"
)

// Prefix of every environment variable.
const Prefix = "AOTGRAPH"

// Config is the process configuration shared by the CLIs.
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stderr"`

	// Store selects where modules live: "dir" or "redis".
	Store       string `envconfig:"STORE" default:"dir"`
	ModuleDir   string `envconfig:"MODULE_DIR" default:"."`
	RedisURL    string `envconfig:"REDIS_URL"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"aot"`

	LoadWorkers int `envconfig:"LOAD_WORKERS" default:"4"`
}

// Load reads envFiles (default ".env") if present, then the environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field combinations envconfig cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store) {
	case "dir":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("%s_STORE=redis requires %s_REDIS_URL", Prefix, Prefix)
		}
	default:
		return fmt.Errorf("unknown store %q, want dir or redis", c.Store)
	}
	if c.LoadWorkers <= 0 {
		return fmt.Errorf("%s_LOAD_WORKERS must be positive, got %d", Prefix, c.LoadWorkers)
	}
	return nil
}

// Logging returns the logger options.
func (c *Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, Output: c.LogOutput}
}

// AOT returns builder/loader options with the configured worker count.
func (c *Config) AOT(opts aot.Options) aot.Options {
	opts.Workers = c.LoadWorkers
	return opts
}

// OpenStore opens the store for the module called module. For directory
// stores the module lives in ModuleDir/module. closeFn releases the redis
// connection and is never nil on success.
func (c *Config) OpenStore(ctx context.Context, module string) (store aot.Store, closeFn func() error, err error) {
	if strings.EqualFold(c.Store, "redis") {
		client, err := aot.DialRedis(ctx, c.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return aot.NewRedisStore(client, c.RedisPrefix, module), client.Close, nil
	}
	return aot.NewDirStore(c.ModuleDir + "/" + module), func() error { return nil }, nil
}
