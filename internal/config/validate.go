package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
)

func (c *Config) validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}

	if err := c.validateLogging(); err != nil {
		return err
	}

	if err := c.validateMetrics(); err != nil {
		return err
	}

	if c.SchemaPath == "" {
		return fmt.Errorf("SCHEMA_PATH is required")
	}

	return nil
}

func (c *Config) validateStore() error {
	switch c.StoreBackend {
	case BackendPostgres:
		return c.validateDatabase()
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_BACKEND is sqlite")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be 'postgres', 'sqlite' or 'memory', got %q", c.StoreBackend)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.DatabaseURL.Value() == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}

	dbURL, err := url.Parse(c.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("DATABASE_URL must include a host")
	}

	dbHost := dbURL.Hostname()
	if !isLoopback(dbHost) && dbURL.Query().Get("sslmode") == "disable" {
		return fmt.Errorf("DATABASE_URL sslmode=disable is not allowed for non-local host %q", dbHost)
	}

	return nil
}

func (c *Config) validateLogging() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be 'text' or 'json', got %q", c.LogFormat)
	}

	return nil
}

func (c *Config) validateMetrics() error {
	if c.MetricsAddr == "" {
		return nil
	}

	host, portStr, err := net.SplitHostPort(c.MetricsAddr)
	if err != nil {
		return fmt.Errorf("METRICS_ADDR must be host:port: %w", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("METRICS_ADDR port must be between 1 and 65535")
	}

	// Loopback for local runs; 0.0.0.0/:: when the network boundary is
	// enforced by the container runtime.
	if !isLoopback(host) && host != "0.0.0.0" && host != "::" {
		return fmt.Errorf("METRICS_ADDR host must be a loopback address or 0.0.0.0/:: for containers (got %q)", host)
	}

	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
