package main

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/state"
)

func main() {
	logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	log.Info().Msg("Starting database reset script...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found or error loading .env file. Relying on OS environment variables.")
	}

	dbCfg := state.DBConfig{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     5432,
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
	if dbCfg.User == "" {
		log.Fatal().Msg("DB_USER environment variable not set.")
	}
	if dbCfg.DBName == "" {
		log.Fatal().Msg("DB_NAME environment variable not set.")
	}
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatal().Str("DB_PORT", portStr).Msg("DB_PORT must be an integer.")
		}
		dbCfg.Port = port
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("user", dbCfg.User).
		Str("dbname", dbCfg.DBName).
		Msg("Connecting to database")

	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer state.CloseDB()

	log.Info().Msg("Connected to database. Dropping and recreating all tables...")
	if err := state.ResetSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to reset database schema")
	}

	// START_CYCLE lets a fresh schema continue the numbering of an older deployment of VAULT_ADDRESS
	if raw := os.Getenv("START_CYCLE"); raw != "" {
		start, err := strconv.Atoi(raw)
		if err != nil {
			log.Fatal().Str("START_CYCLE", raw).Msg("START_CYCLE must be an integer.")
		}
		vaultHex := os.Getenv("VAULT_ADDRESS")
		if !common.IsHexAddress(vaultHex) {
			log.Fatal().Str("VAULT_ADDRESS", vaultHex).Msg("START_CYCLE needs VAULT_ADDRESS set to the vault's hex address.")
		}
		vault := common.HexToAddress(vaultHex)
		if err := state.ResetCycleNumber(vault, start); err != nil {
			log.Fatal().Err(err).Msg("Failed to set cycle counter")
		}
		cycles, err := state.GetCycleState(vault)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read cycle counter")
		}
		log.Info().Str("vault", vault.Hex()).Int("cycle", cycles.CurrentCycle).Msg("Cycle counter ready")
	}

	log.Info().Msg("Database reset complete!")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
