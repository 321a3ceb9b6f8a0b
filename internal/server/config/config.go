package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr           string
	DatabasePath   string
	MasterSecret   string
	Debug          bool
	AllowedOrigins []string
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr         *string
	DatabasePath *string
	MasterSecret *string
	Debug        *bool
}

// Load loads server configuration from environment variables and applies any
// explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	port := 3010
	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	addr := fmt.Sprintf(":%d", port)
	if envAddr := os.Getenv("PULSE_ADDR"); envAddr != "" {
		addr = envAddr
	}
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./pulse.db"
	}
	if overrides.DatabasePath != nil {
		dbPath = *overrides.DatabasePath
	}

	masterSecret := os.Getenv("PULSE_MASTER_SECRET")
	if overrides.MasterSecret != nil {
		masterSecret = *overrides.MasterSecret
	}
	if masterSecret == "" {
		return nil, fmt.Errorf("PULSE_MASTER_SECRET environment variable is required")
	}

	debug := false
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		debug = true
	}
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	return &Config{
		Addr:           addr,
		DatabasePath:   dbPath,
		MasterSecret:   masterSecret,
		Debug:          debug,
		AllowedOrigins: []string{"*"}, // For self-hosted, allow all origins
	}, nil
}

// String returns a pointer to s, for Overrides literals.
func String(s string) *string { return &s }
