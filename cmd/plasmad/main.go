package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/config"
	"github.com/elys-network/plasmavault/internal/events"
	"github.com/elys-network/plasmavault/internal/factory"
	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/operator"
	"github.com/elys-network/plasmavault/internal/sandbox"
	"github.com/elys-network/plasmavault/internal/state"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/web"
)

const natsConnectTimeout = 5 * time.Second

// main is the entry point for the vault daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Msg("Plasma vault daemon starting...")

	vf, err := config.LoadVaultFile(config.VaultFilePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", config.VaultFilePath).Msg("Failed to load vault file")
	}

	// --- 2. Event sinks ---
	sinks := events.Multi{events.NewLogSink()}
	if config.NatsURL != "" {
		conn, err := events.Connect(config.NatsURL, "plasmad", natsConnectTimeout)
		if err != nil {
			log.Fatal().Err(err).Str("url", config.NatsURL).Msg("Failed to connect to NATS")
		}
		defer conn.Close()
		sinks = append(sinks, events.NewNATSSink(conn, config.NatsSubjectPrefix))
	}

	// --- 3. Vault deployment ---
	// the factory is the first contract the admin would deploy
	f := factory.New(crypto.CreateAddress(vf.Admin, 0), nil)
	deployment, err := sandbox.Deploy(f, vf, sinks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to deploy vault")
	}
	inst := deployment.Instance
	vaultAddr := inst.Vault.Address()
	if !inst.Access.HasCapability(config.OperatorAddress, access.Alpha) {
		log.Fatal().Str("operator", config.OperatorAddress.Hex()).Msg("Operator address does not hold ALPHA in the vault file")
	}
	if config.ClaimFeesEachCycle && !inst.Access.HasCapability(config.OperatorAddress, access.Claimer) {
		log.Fatal().Str("operator", config.OperatorAddress.Hex()).Msg("OPERATOR_CLAIM_FEES needs the operator to hold CLAIMER")
	}

	// --- 4. Persistence (optional) ---
	var store operator.Store
	var history web.History
	if config.PersistenceEnabled {
		dbCfg := state.DBConfig{
			Host: config.DBHost, Port: config.DBPort,
			User: config.DBUser, Password: config.DBPassword,
			DBName: config.DBName, SSLMode: config.DBSSLMode,
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		if cycles, err := state.GetCycleState(vaultAddr); err != nil {
			log.Warn().Err(err).Msg("Could not load operator cycle state")
		} else if cycles.Interrupted() {
			log.Warn().Int("cycle", cycles.CurrentCycle).Str("cycle_id", cycles.LastCycleID).Msg("Previous operator cycle never finished")
		} else {
			log.Info().Int("lastCycle", cycles.CurrentCycle).Str("lastOutcome", cycles.LastOutcome).Msg("Resuming cycle numbering")
		}
		if err := syncParameters(inst); err != nil {
			log.Fatal().Err(err).Msg("Failed to synchronize vault parameters")
		}
		store = operator.PostgresStore{}
		history = web.PostgresHistory{}
	} else {
		log.Warn().Msg("DB_ENABLED is not set. Snapshots and receipts will not be persisted.")
	}

	// --- 5. Operator ---
	op, err := operator.New(operator.Config{
		Engine:        inst.Vault,
		Caller:        config.OperatorAddress,
		Store:         store,
		ClaimFees:     config.ClaimFeesEachCycle,
		ShareDecimals: inst.Vault.ShareDecimals(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create operator")
	}

	// --- 6. Web Server ---
	webServer := web.NewWebServer(web.Config{
		Port:          config.WebPort,
		Reader:        op,
		History:       history,
		ShareDecimals: inst.Vault.ShareDecimals(),
	})
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting vault read API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 7. Main loop ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("vault", vaultAddr.Hex()).Str("interval", config.OperatorInterval.String()).Msg("Starting operator main loop")
	op.RunLoop(ctx, config.OperatorInterval)
	log.Info().Msg("Plasma vault daemon stopped")
}

// syncParameters applies the active stored parameters to the vault, or stores the vault's current
// ones as a new active version when none is active.
func syncParameters(inst *factory.Instance) error {
	v := inst.Vault
	stored, err := state.LoadActiveVaultParameters(v.Address())
	if errors.Is(err, state.ErrNoActiveParameters) {
		latest, err := state.LatestParametersVersion(v.Address())
		if err != nil {
			return err
		}
		log.Warn().Int("version", latest+1).Msg("No active vault parameters stored, saving the vault file values.")
		_, err = state.SaveVaultParameters(types.VaultParameters{
			Vault:      v.Address(),
			Version:    latest + 1,
			FeePackage: v.FeePackage(),
			Withdraw:   v.WithdrawParameters(),
			SupplyCap:  v.SupplyCap(),
		}, true)
		return err
	}
	if err != nil {
		return err
	}

	atomists := inst.Access.Members(access.Atomist)
	if len(atomists) == 0 {
		log.Warn().Int("version", stored.Version).Msg("No ATOMIST in the vault file; stored parameters are not applied.")
		return nil
	}
	atomist := atomists[0]
	if err := v.SetFeePackage(atomist, stored.FeePackage); err != nil {
		return err
	}
	if err := v.SetWithdrawParameters(atomist, stored.Withdraw); err != nil {
		return err
	}
	if err := v.SetSupplyCap(atomist, stored.SupplyCap); err != nil {
		return err
	}
	log.Info().Int("version", stored.Version).Str("feePackage", stored.FeePackage.Name).Msg("Vault parameters loaded successfully.")
	return nil
}
