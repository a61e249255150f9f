package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/throttle-sync/internal/queue"
	"github.com/kursadbilgin/throttle-sync/internal/throttle"
)

type Config struct {
	BusDriver            string `env:"BUS_DRIVER,default=rabbitmq"`
	RabbitMQURL          string `env:"RABBITMQ_URL"`
	ThrottleExchange     string `env:"THROTTLE_EXCHANGE,default=throttleData"`
	RedisURL             string `env:"REDIS_URL"`
	RedisChannel         string `env:"REDIS_CHANNEL,default=throttleData"`
	NodeID               string `env:"NODE_ID"`
	ListenerConcurrency  int    `env:"LISTENER_CONCURRENCY,default=1"`
	ListenerPrefetch     int    `env:"LISTENER_PREFETCH,default=32"`
	SweepIntervalMS      int    `env:"SWEEP_INTERVAL_MS,default=1000"`
	AggregateClearPolicy string `env:"AGGREGATE_CLEAR_POLICY,default=counted"`
	APIPort              int    `env:"API_PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
	ShutdownTimeoutMS    int    `env:"SHUTDOWN_TIMEOUT_MS,default=10000"`
}

// Load reads an optional .env file, then the process environment, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	driver, err := queue.ParseDriver(c.BusDriver)
	if err != nil {
		return err
	}

	switch driver {
	case queue.DriverRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required for the rabbitmq bus driver")
		}
		if strings.TrimSpace(c.ThrottleExchange) == "" {
			return fmt.Errorf("THROTTLE_EXCHANGE must not be empty")
		}
	case queue.DriverRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required for the redis bus driver")
		}
		if strings.TrimSpace(c.RedisChannel) == "" {
			return fmt.Errorf("REDIS_CHANNEL must not be empty")
		}
	}

	if _, err := throttle.ParseClearPolicy(c.AggregateClearPolicy); err != nil {
		return err
	}
	if c.SweepIntervalMS <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MS must be positive, got %d", c.SweepIntervalMS)
	}
	return nil
}

func (c *Config) Driver() queue.Driver {
	return queue.Driver(strings.ToLower(strings.TrimSpace(c.BusDriver)))
}

func (c *Config) ClearPolicy() throttle.ClearPolicy {
	policy, err := throttle.ParseClearPolicy(c.AggregateClearPolicy)
	if err != nil {
		return throttle.ClearCounted
	}
	return policy
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}
