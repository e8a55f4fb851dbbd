// Package config loads service settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"pmsdesk/pkg/logger"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
)

type Config struct {
	Addr    string
	TLSCert string
	TLSKey  string

	OrderStore  string
	DatabaseURL string
	MySQLDSN    string

	RedisAddr  string
	SessionTTL time.Duration

	AMQPURL string

	OTelHost         string
	TraceProbability float64

	TaxRate  decimal.Decimal
	LogLevel logger.Level
}

// Load reads the given .env files (".env" when none are named) into the
// process environment without overriding variables that are already set,
// then builds a Config. Missing files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:        getEnv("ADDR", ":8443"),
		TLSCert:     getEnv("TLS_CERT", "certs/server.crt"),
		TLSKey:      getEnv("TLS_KEY", "certs/server.key"),
		OrderStore:  strings.ToLower(getEnv("ORDER_STORE", StoreMemory)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		MySQLDSN:    os.Getenv("MYSQL_DSN"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		AMQPURL:     os.Getenv("AMQP_URL"),
		OTelHost:    os.Getenv("OTEL_HOST"),
	}

	var err error
	if cfg.SessionTTL, err = time.ParseDuration(getEnv("SESSION_TTL", "1h")); err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("SESSION_TTL must be positive")
	}
	if cfg.TraceProbability, err = strconv.ParseFloat(getEnv("TRACE_PROBABILITY", "1.0"), 64); err != nil {
		return nil, fmt.Errorf("TRACE_PROBABILITY: %w", err)
	}
	if cfg.TraceProbability < 0 || cfg.TraceProbability > 1 {
		return nil, fmt.Errorf("TRACE_PROBABILITY must be within [0,1], got %v", cfg.TraceProbability)
	}
	if cfg.TaxRate, err = decimal.NewFromString(getEnv("TAX_RATE", "0")); err != nil {
		return nil, fmt.Errorf("TAX_RATE: %w", err)
	}
	if cfg.TaxRate.IsNegative() {
		return nil, errors.New("TAX_RATE must not be negative")
	}
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "info"))

	switch cfg.OrderStore {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres order store")
		}
	case StoreMySQL:
		if cfg.MySQLDSN == "" {
			return nil, errors.New("MYSQL_DSN is required for the mysql order store")
		}
	default:
		return nil, fmt.Errorf("unknown ORDER_STORE %q", cfg.OrderStore)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
