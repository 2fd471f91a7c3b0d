package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/pgoutbox/go/internal/cdc"
	"github.com/mcdev12/pgoutbox/go/internal/dbconfig"
	"github.com/mcdev12/pgoutbox/go/internal/outbox"
	"github.com/mcdev12/pgoutbox/go/internal/outbox/sink"
)

type SinkConfig struct {
	// Kind selects the broker: "amqp" or "jetstream".
	Kind string `yaml:"kind"`
	// Envelope wraps payloads in a JSON envelope instead of publishing them raw.
	Envelope    bool                 `yaml:"envelope"`
	Destination string               `yaml:"destination"`
	AMQP        sink.AMQPConfig      `yaml:"amqp"`
	JetStream   sink.JetStreamConfig `yaml:"jetstream"`
}

type RestartConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type Config struct {
	Database   dbconfig.Config      `yaml:"database"`
	Subscriber cdc.SubscriberConfig `yaml:"subscriber"`
	Sink       SinkConfig           `yaml:"sink"`
	Health     outbox.HealthConfig  `yaml:"health"`
	Restart    RestartConfig        `yaml:"restart"`
	AdminAddr  string               `yaml:"admin_addr"`
	LogLevel   string               `yaml:"log_level"`
}

// defaultConfig builds the configuration from the environment. A config
// file, when present, is applied on top.
func defaultConfig() *Config {
	repl := dbconfig.NewReplicationConfigFromEnv()

	sub := cdc.DefaultSubscriberConfig()
	sub.Slot = repl.Slot
	sub.Publication = repl.Publication
	sub.MaxInFlight = getEnvAsInt("OUTBOX_MAX_IN_FLIGHT", sub.MaxInFlight)

	amqpCfg := sink.DefaultAMQPConfig()
	amqpCfg.URL = getEnv("AMQP_URL", amqpCfg.URL)
	amqpCfg.Exchange = getEnv("AMQP_EXCHANGE", amqpCfg.Exchange)

	jsCfg := sink.DefaultJetStreamConfig()
	jsCfg.URL = getEnv("NATS_URL", jsCfg.URL)

	return &Config{
		Database:   dbconfig.NewConfigFromEnv(),
		Subscriber: sub,
		Sink: SinkConfig{
			Kind:      getEnv("SINK_KIND", "jetstream"),
			Envelope:  getEnv("SINK_ENVELOPE", "true") == "true",
			AMQP:      amqpCfg,
			JetStream: jsCfg,
		},
		Health: outbox.DefaultHealthConfig(),
		Restart: RestartConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
		},
		AdminAddr: fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig overlays the yaml file at path on the environment defaults.
// A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Sink.Kind {
	case "amqp", "jetstream":
	default:
		return fmt.Errorf("unknown sink kind %q", c.Sink.Kind)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}
