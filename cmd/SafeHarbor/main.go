package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/api"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/genai"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/lockfile"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/notify"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/store"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/taxonomy"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SafeHarbor state data
	DefaultStateDir = "/var/lib/safeharbor"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "safeharbor.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// The state-directory lock keeps a second instance from sharing the
	// SQLite store; concurrent writers would break the per-subject
	// serialization the coordinator relies on.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	storeOpts := buildStoreOptions(flags)
	apiOpts, err := buildAPIOptions(flags, storeOpts)
	if err != nil {
		slog.Error("Failed to build configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SafeHarbor with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(ctx, apiOpts...); err != nil {
		slog.Error("SafeHarbor failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SafeHarbor exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
	OnCallNumbers string
	TaxonomyFile  string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	apiAddr       *string
	onCallNumbers *string
	taxonomyFile  *string
}

// initializeLogger sets up structured logging. SAFEHARBOR_DEBUG=true lowers
// the level to debug.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("SAFEHARBOR_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("SAFEHARBOR_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		OnCallNumbers: os.Getenv("ONCALL_NUMBERS"),
		TaxonomyFile:  os.Getenv("TAXONOMY_FILE"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SAFEHARBOR_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("SAFEHARBOR_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SAFEHARBOR_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ONCALL_NUMBERS_SET", config.OnCallNumbers != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for SafeHarbor data (overrides $SAFEHARBOR_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the store (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the conversation agent (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		onCallNumbers: flag.String("oncall-numbers", config.OnCallNumbers, "comma-separated on-call phone numbers for escalation SMS (overrides $ONCALL_NUMBERS)"),
		taxonomyFile:  flag.String("taxonomy", config.TaxonomyFile, "path to a risk taxonomy JSON file (overrides $TAXONOMY_FILE, empty uses the built-in taxonomy)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"onCallNumbersSet", *flags.onCallNumbers != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, storeOpts []store.Option) ([]api.Option, error) {
	apiOpts := []api.Option{api.WithStoreOptions(storeOpts...)}

	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}

	// A broken curated taxonomy is a startup failure, not something to
	// silently paper over with the built-in one.
	if *flags.taxonomyFile != "" {
		snap, err := taxonomy.Load(*flags.taxonomyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load taxonomy: %w", err)
		}
		slog.Info("Curated risk taxonomy loaded", "path", *flags.taxonomyFile, "version", snap.Version())
		apiOpts = append(apiOpts, api.WithTaxonomy(snap))
	}

	apiOpts = append(apiOpts, api.WithNotifier(buildNotifier(flags)))

	if *flags.openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("GenAI client unavailable, conversation agent will use templates", "error", err)
		} else {
			apiOpts = append(apiOpts, api.WithGenAIClient(client))
		}
	} else {
		slog.Debug("No OpenAI API key configured, conversation agent will use templates")
	}

	return apiOpts, nil
}

// buildNotifier picks the escalation notification channel: Twilio SMS when
// on-call numbers are configured, otherwise log-only.
func buildNotifier(flags Flags) notify.Notifier {
	if *flags.onCallNumbers == "" {
		slog.Warn("No on-call numbers configured, escalations will only be logged")
		return notify.NewLogNotifier()
	}

	numbers := strings.Split(*flags.onCallNumbers, ",")
	for i := range numbers {
		numbers[i] = strings.TrimSpace(numbers[i])
	}

	notifier, err := notify.NewTwilioNotifier(notify.WithOnCallNumbers(numbers))
	if err != nil {
		slog.Warn("Twilio notifier unavailable, escalations will only be logged", "error", err)
		return notify.NewLogNotifier()
	}
	slog.Info("Twilio escalation notifier configured", "oncall_count", len(numbers))
	return notifier
}
