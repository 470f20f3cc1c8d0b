package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Backend names accepted in FEED_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSupabase = "supabase"
)

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// Backend selects the collection implementation: memory or supabase
	Backend string

	// SupabaseURL is the URL of your Supabase project
	SupabaseURL string

	// SupabaseKey is the service role key for backend operations
	// This key has elevated privileges and should never be exposed to clients
	SupabaseKey string

	// Collection is the collection path (table name for supabase) holding messages
	Collection string

	// PageSize is how many messages a feed shows before "More"
	PageSize int

	// PollInterval is how often the supabase backend re-reads a subscribed window
	PollInterval time.Duration

	// JWTSecret verifies the bearer tokens issued by the sign-in service
	JWTSecret string

	// CorsOrigins lists the browser origins allowed to call the API
	CorsOrigins []string

	// IntentRate and IntentBurst bound how many feed intents one connection may send per second
	IntentRate  float64
	IntentBurst int

	LogLevel  string
	LogFormat string
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment variables.
// Falls back to sensible defaults if values are not set.
func Load() *Config {
	// Not an error if .env doesn't exist; production passes real environment variables
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	config := &Config{
		ServerPort:   getEnv("PORT", "8080"),
		Backend:      strings.ToLower(getEnv("FEED_BACKEND", BackendMemory)),
		SupabaseURL:  getEnv("SUPABASE_URL", ""),
		SupabaseKey:  getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		Collection:   getEnv("FEED_TABLE", "messages"),
		PageSize:     getEnvInt("FEED_PAGE_SIZE", 5),
		PollInterval: getEnvDuration("FEED_POLL_INTERVAL", 2*time.Second),
		JWTSecret:    getEnv("AUTH_JWT_SECRET", ""),
		CorsOrigins:  getEnvList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		IntentRate:   getEnvFloat("INTENT_RATE", 10),
		IntentBurst:  getEnvInt("INTENT_BURST", 20),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
	}

	return config
}

// Warnings lists configuration problems that do not stop the server.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Backend == BackendSupabase {
		if c.SupabaseURL == "" {
			warnings = append(warnings, "SUPABASE_URL is not set")
		}
		if c.SupabaseKey == "" {
			warnings = append(warnings, "SUPABASE_SERVICE_ROLE_KEY is not set")
		}
	}
	if c.JWTSecret == "" {
		warnings = append(warnings, "AUTH_JWT_SECRET is not set; every request will be rejected")
	}
	if c.PageSize < 1 {
		warnings = append(warnings, "FEED_PAGE_SIZE must be at least 1; using 5")
		c.PageSize = 5
	}
	return warnings
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvList splits a comma-separated variable and trims whitespace
func getEnvList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
