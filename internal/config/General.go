package config

import (
	"errors"
	"strconv"
	"strings"

	"os"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects the ledger backing: "live" (Postgres) or "sim" (in-memory).
	Mode string

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string

	// WebPort is the listen port for the HTTP API.
	WebPort string

	// OracleURL is the base URL of the price feed service.
	OracleURL string
	// OracleTimeoutSeconds bounds each price feed request.
	OracleTimeoutSeconds int64

	// DatabaseURL is the Postgres connection string. Required in live mode only.
	DatabaseURL string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set, except DSCE_DATABASE_URL in sim mode.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("DSCE_MODE")
	if err != nil {
		return err
	}
	if Mode != "live" && Mode != "sim" {
		return errors.New("environment variable DSCE_MODE must be \"live\" or \"sim\", got: " + Mode)
	}

	LogLevel, err = getEnv("DSCE_LOG_LEVEL")
	if err != nil {
		return err
	}

	WebPort, err = getEnv("DSCE_WEB_PORT")
	if err != nil {
		return err
	}

	OracleURL, err = getEnv("DSCE_ORACLE_URL")
	if err != nil {
		return err
	}

	OracleTimeoutSeconds, err = getEnvAsInt64("DSCE_ORACLE_TIMEOUT_SECONDS")
	if err != nil {
		return err
	}

	if Mode == "live" {
		DatabaseURL, err = getEnv("DSCE_DATABASE_URL")
		if err != nil {
			return err
		}
	}

	// Load the protocol parameter configuration
	if err := loadProtocolConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Mode", Mode).
		Str("WebPort", WebPort).
		Str("OracleURL", OracleURL).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt64 retrieves an environment variable as an int64. Returns error if not set or invalid.
func getEnvAsInt64(key string) (int64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsList retrieves an environment variable as a comma-separated list with
// whitespace trimmed. Returns error if not set or empty.
func getEnvAsList(key string) ([]string, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return nil, errors.New("environment variable " + key + " must contain at least one entry")
	}
	return values, nil
}
