package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultFilePath points at the YAML vault definition.
	VaultFilePath string

	// OperatorAddress is the account the daemon acts as. It must hold Alpha in the vault file.
	OperatorAddress common.Address
	// OperatorInterval is the pause between operator cycles.
	OperatorInterval time.Duration
	// ClaimFeesEachCycle makes the operator distribute claimable fee shares every cycle.
	ClaimFeesEachCycle bool

	// WebPort is the port of the read API.
	WebPort string

	// NatsURL enables NATS event publishing when set.
	NatsURL string
	// NatsSubjectPrefix is the first token of every published subject.
	NatsSubjectPrefix string

	// PersistenceEnabled turns the PostgreSQL store on.
	PersistenceEnabled bool
	DBHost             string
	DBPort             int
	DBUser             string
	DBPassword         string
	DBName             string
	DBSSLMode          string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// VAULT_CONFIG_PATH and OPERATOR_ADDRESS are required; everything else has a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultFilePath, err = getEnv("VAULT_CONFIG_PATH")
	if err != nil {
		return err
	}

	operator, err := getEnv("OPERATOR_ADDRESS")
	if err != nil {
		return err
	}
	if !common.IsHexAddress(operator) {
		return errors.New("environment variable OPERATOR_ADDRESS must be a hex address, got: " + operator)
	}
	OperatorAddress = common.HexToAddress(operator)

	if OperatorInterval, err = getEnvAsDurationOr("OPERATOR_INTERVAL", DefaultOperatorInterval); err != nil {
		return err
	}
	if ClaimFeesEachCycle, err = getEnvAsBoolOr("OPERATOR_CLAIM_FEES", false); err != nil {
		return err
	}

	WebPort = getEnvOr("WEB_PORT", "8080")
	NatsURL = getEnvOr("NATS_URL", "")
	NatsSubjectPrefix = getEnvOr("NATS_SUBJECT_PREFIX", "plasmavault")

	if PersistenceEnabled, err = getEnvAsBoolOr("DB_ENABLED", false); err != nil {
		return err
	}
	DBHost = getEnvOr("DB_HOST", "localhost")
	if DBPort, err = getEnvAsIntOr("DB_PORT", 5432); err != nil {
		return err
	}
	DBUser = getEnvOr("DB_USER", "")
	DBPassword = getEnvOr("DB_PASSWORD", "")
	DBName = getEnvOr("DB_NAME", "")
	DBSSLMode = getEnvOr("DB_SSLMODE", "disable")
	if PersistenceEnabled && (DBUser == "" || DBName == "") {
		return errors.New("DB_USER and DB_NAME are required when DB_ENABLED is set")
	}

	log.Debug().
		Str("VaultFile", VaultFilePath).
		Str("Operator", OperatorAddress.Hex()).
		Dur("Interval", OperatorInterval).
		Bool("Persistence", PersistenceEnabled).
		Bool("NATS", NatsURL != "").
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

// getEnvOr retrieves a string environment variable or the fallback when unset or empty.
func getEnvOr(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// getEnvAsIntOr retrieves an environment variable as an int. Returns error if set but invalid.
func getEnvAsIntOr(key string, fallback int) (int, error) {
	valueStr := getEnvOr(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBoolOr retrieves an environment variable as a bool. Returns error if set but invalid.
func getEnvAsBoolOr(key string, fallback bool) (bool, error) {
	valueStr := getEnvOr(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDurationOr retrieves an environment variable as a duration ("90s", "5m").
func getEnvAsDurationOr(key string, fallback time.Duration) (time.Duration, error) {
	valueStr := getEnvOr(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return 0, errors.New("environment variable " + key + " must be a positive duration, got: " + valueStr)
	}
	return value, nil
}
