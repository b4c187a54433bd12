// Package config loads server configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the listen address for the HTTP and websocket server.
	Addr string `env:"ADDR" envDefault:":8080"`

	// DBPath is the SQLite database file.
	DBPath string `env:"DB_PATH" envDefault:"./data/bills.db"`

	// TokenSecret signs payer tokens. Must be set in production; the
	// default exists so local development works out of the box.
	TokenSecret string `env:"TOKEN_SECRET" envDefault:"dev-only-insecure-secret"`

	// ShareBaseURL is the public base for join links sent to diners,
	// e.g. "https://tab.example.com".
	ShareBaseURL string `env:"SHARE_BASE_URL" envDefault:"http://localhost:8080"`

	// AnalyzerURL is the receipt-extraction service endpoint. Empty disables
	// receipt analysis; bills are then entered manually.
	AnalyzerURL string `env:"ANALYZER_URL"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
