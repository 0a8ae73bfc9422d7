package main

import (
	"time"

	"github.com/stablefoundry/dsce/internal/config"
	"github.com/stablefoundry/dsce/internal/engine"
	"github.com/stablefoundry/dsce/internal/health"
	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/logger"
	"github.com/stablefoundry/dsce/internal/oracle"
	"github.com/stablefoundry/dsce/internal/state"
	"github.com/stablefoundry/dsce/internal/types"
	"github.com/stablefoundry/dsce/internal/valuation"
	"github.com/stablefoundry/dsce/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const CONFIG_VERSION = 1

// main is the entry point for the DSC engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel)
	log.Info().Msg("DSC Engine Starting...")

	// --- 2. Ledger Store Initialization (with Safety Switch) ---
	var (
		store    ledger.Store
		receipts engine.ReceiptStore
		cfg      types.Config
	)

	if config.Mode == "live" {
		log.Warn().Msg("Initializing engine in LIVE mode. Ledger state will be persisted.")

		if err := state.InitDB(config.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}

		// Parameters are set once: seed from the environment on first run and
		// load from the database afterwards.
		storedCfg, err := state.LoadConfig()
		if err != nil {
			log.Warn().Err(err).Msg("No stored engine parameters, seeding from environment.")
			seeded, err := config.ProtocolConfig()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to build protocol config from environment")
			}
			if _, err := state.SaveConfig(seeded, CONFIG_VERSION); err != nil {
				log.Fatal().Err(err).Msg("Failed to save initial engine parameters")
			}
			cfg = seeded
		} else {
			cfg = *storedCfg
		}

		ledgerStore, err := state.NewLedgerStore()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize ledger store")
		}
		store = ledgerStore
		receipts = state.ReceiptStore{}
	} else {
		log.Warn().Msg("Initializing engine in SIM mode. Ledger state is in-memory and volatile.")

		simCfg, err := config.ProtocolConfig()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build protocol config from environment")
		}
		cfg = simCfg
		store = ledger.NewMemoryStore()
		receipts = engine.NewDiscardReceipts()
	}
	log.Info().Int("assets", len(cfg.Assets)).Msg("Engine parameters loaded successfully.")

	// --- 3. Price Feed Client ---
	priceFeed := oracle.NewClient(cfg.OracleAddress, cfg.PythContract, time.Duration(config.OracleTimeoutSeconds)*time.Second)
	log.Info().Str("endpoint", cfg.OracleAddress).Msg("Price feed client ready")

	// --- 4. Create Engine Instance with Dependency Injection ---
	valuationService := valuation.NewService(cfg, priceFeed)
	healthEngine := health.NewEngine(cfg, valuationService)

	engineInstance, err := engine.New(cfg, store, valuationService, healthEngine, receipts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}
	log.Info().Msg("Engine instance created successfully")

	// --- 5. Start Web Server ---
	webServer := web.NewWebServer(engineInstance, config.WebPort)
	log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting engine API server")
	if err := webServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Web server failed")
	}
}
