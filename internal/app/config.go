package app

import (
	"os"
	"strings"
	"time"

	"fund_sheet_sync/internal/creds"
	"fund_sheet_sync/internal/sheets"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupEnvironment loads .env file and configures zerolog output and log level.
func SetupEnvironment() {
	// Load .env file if it exists
	err := godotenv.Load()

	// Configure logging
	if os.Getenv("ENV") == "production" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(os.Stderr)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	levelStr := strings.ToLower(os.Getenv("LOGLEVEL"))
	switch levelStr {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "disabled":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	case "":
		// Default based on environment
		if os.Getenv("ENV") == "production" {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Msgf("Unknown LOGLEVEL '%s', defaulting to info.", levelStr)
	}

	// wait until now to report on the .env file so we have the chance to set up logging first
	if err == nil {
		log.Debug().Msg("Loaded environment variables from .env file.")
	} else {
		log.Debug().Msg("No .env file found or error loading .env file; proceeding with existing environment variables.")
	}
}

// GetRequiredEnv fetches a required environment variable or exits if not set.
func GetRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatal().Msgf("%s environment variable is required", key)
	}
	return value
}

// GetEnvWithDefault fetches an environment variable with a default fallback.
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// InitializeClients creates the OAuth credential client and the sheet
// source client from environment configuration.
func InitializeClients() (*creds.Client, *sheets.Client) {
	log.Debug().Msg("Initializing clients")
	clientID := GetRequiredEnv("GOOGLE_CLIENT_ID")
	clientSecret := GetRequiredEnv("GOOGLE_CLIENT_SECRET")
	redirectURL := GetEnvWithDefault("GOOGLE_REDIRECT_URL", "http://localhost:8080/oauth/callback")

	credsClient := creds.NewClient(clientID, clientSecret, redirectURL)
	sheetsClient := sheets.NewClient()

	log.Debug().Msg("Clients initialized successfully")
	return credsClient, sheetsClient
}

// TickInterval reads the scheduler's wall-clock tick interval from the
// environment. This is the scan cadence, independent of any individual
// connection's own frequency.
func TickInterval() time.Duration {
	raw := GetEnvWithDefault("TICK_INTERVAL", "1m")
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("tick_interval", raw).Msg("Invalid TICK_INTERVAL, defaulting to 1m")
		return time.Minute
	}
	return d
}
