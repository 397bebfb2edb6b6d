package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL        string `env:"RABBITMQ_URL,required=true"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	EndpointRatePerSec int    `env:"ENDPOINT_RATE_PER_SEC,default=50"`
	DispatchFanout     int    `env:"DISPATCH_FANOUT,default=8"`
	WorkerConcurrency  int    `env:"WORKER_CONCURRENCY,default=8"`
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`

	// External notification providers. Each is optional: a channel without a
	// relay URL is simply not configured and its sends are skipped.
	DirectoryURL  string `env:"DIRECTORY_URL"`
	EmailRelayURL string `env:"EMAIL_RELAY_URL"`
	SMSRelayURL   string `env:"SMS_RELAY_URL"`
	PushRelayURL  string `env:"PUSH_RELAY_URL"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
