package dbconfig

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	return Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "outbox"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// ReplicationDSN returns the connection URL for a logical replication
// session on the same database.
func (c Config) ReplicationDSN() string {
	return c.DSN() + "&replication=database"
}

// ReplicationConfig names the publication and slot streaming the outbox.
type ReplicationConfig struct {
	Publication string `yaml:"publication"`
	Slot        string `yaml:"slot"`
}

// NewReplicationConfigFromEnv reads OUTBOX_* environment variables (with defaults).
func NewReplicationConfigFromEnv() ReplicationConfig {
	return ReplicationConfig{
		Publication: getEnv("OUTBOX_PUBLICATION", "events_pub"),
		Slot:        getEnv("OUTBOX_SLOT", "events_slot"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}
