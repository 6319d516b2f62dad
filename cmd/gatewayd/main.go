package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aschepis/backscratcher/gateway/config"
	"github.com/aschepis/backscratcher/gateway/conversations"
	"github.com/aschepis/backscratcher/gateway/dispatch"
	"github.com/aschepis/backscratcher/gateway/llm"
	gatewaylogger "github.com/aschepis/backscratcher/gateway/logger"
	"github.com/aschepis/backscratcher/gateway/migrations"
	"github.com/aschepis/backscratcher/gateway/session"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		logFile        = flag.String("logfile", "", "Path to log file. If not set, logs to stdout")
		pretty         = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		dbPath         = flag.String("db", "", "Path to SQLite database file (overrides config)")
		migrationsPath = flag.String("migrations", "", "Path to migrations directory (overrides config)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := gatewaylogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	configPath := config.GetServerConfigPath()
	appConfig, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}
	logger.Info().Str("path", configPath).Msg("Loaded server configuration")

	if *dbPath != "" {
		appConfig.DBPath = *dbPath
	}
	if *migrationsPath != "" {
		appConfig.MigrationsPath = *migrationsPath
	}

	logger.Info().
		Strs("providers", appConfig.Providers).
		Str("db", appConfig.DBPath).
		Msg("gatewayd starting")

	// ---------------------------
	// 1. Open SQLite + Turn Store
	// ---------------------------

	db, err := sql.Open("sqlite3", appConfig.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, appConfig.MigrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	turnStore := conversations.NewStore(db, logger)

	// ---------------------------
	// 2. Credentials + Dispatcher
	// ---------------------------

	creds := buildCredentials(appConfig, logger)
	dispatcher := dispatch.New(creds, logger)

	// Vendor transports register here. The gateway core ships without HTTP
	// clients; deployments plug their own via dispatcher.RegisterTransport.

	// ---------------------------
	// 3. Orchestrator
	// ---------------------------

	sessionCfg := session.Config{
		MaxFollowupRounds:      appConfig.Session.MaxFollowupRounds,
		DuplicateDeltaMinBytes: appConfig.Session.DuplicateDeltaMinBytes,
		ChunkIdleTimeout:       time.Duration(appConfig.Session.ChunkIdleTimeout) * time.Second,
		ToolPolicies:           toolPolicies(appConfig),
	}

	executor := llm.ToolExecutorFunc(func(ctx context.Context, sessionID, toolName, argumentsJSON, workingDir string) (string, error) {
		return "", fmt.Errorf("no tool runtime configured for %q", toolName)
	})

	orch := session.New(dispatcher, executor, turnStore, logger, sessionCfg)
	defer orch.Close() //nolint:errcheck // Shutdown path
	logger.Info().Msg("Session orchestrator started")

	// ---------------------------
	// 4. Wait for shutdown
	// ---------------------------

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	logger.Info().Msg("gatewayd shutdown complete")
	return nil
}

// buildCredentials wires the configured API keys into the static resolver
// for every enabled provider.
func buildCredentials(appConfig *config.ServerConfig, logger zerolog.Logger) *dispatch.StaticCredentials {
	creds := dispatch.NewStaticCredentials()
	for _, provider := range appConfig.Providers {
		switch provider {
		case llm.VendorOpenAI:
			apiKey, baseURL, _, _ := config.LoadOpenAIConfig(appConfig)
			if apiKey == "" {
				logger.Warn().Str("provider", provider).Msg("Provider enabled without an API key")
			}
			creds.AddVendor(llm.VendorOpenAI, apiKey, baseURL)
		case llm.VendorAnthropic:
			apiKey, baseURL, _ := config.LoadAnthropicConfig(appConfig)
			if apiKey == "" {
				logger.Warn().Str("provider", provider).Msg("Provider enabled without an API key")
			}
			creds.AddVendor(llm.VendorAnthropic, apiKey, baseURL)
		case llm.VendorGemini:
			apiKey, _ := config.LoadGeminiConfig(appConfig)
			if apiKey == "" {
				logger.Warn().Str("provider", provider).Msg("Provider enabled without an API key")
			}
			creds.AddVendor(llm.VendorGemini, apiKey, "")
		default:
			logger.Warn().Str("provider", provider).Msg("Unknown provider in config, skipping")
		}
	}
	return creds
}

func toolPolicies(appConfig *config.ServerConfig) map[string]session.ToolPolicy {
	policies := make(map[string]session.ToolPolicy, len(appConfig.Tools))
	for name, tc := range appConfig.Tools {
		if tc == nil {
			continue
		}
		policies[name] = session.ToolPolicy{IdempotentLookup: tc.IdempotentLookup}
	}
	return policies
}
