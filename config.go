package posclient

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries the environment-driven settings for a terminal process.
// Everything here can also be set programmatically on the individual
// components; the env path exists for the runnable binaries.
type Config struct {
	// APIURL is the base URL of the POS backend.
	APIURL string

	// RedisAddress enables the shared key-value store and cross-context
	// broadcast when non-empty. Empty means in-memory adapters.
	RedisAddress string

	// HTTPTimeout applies to every backend call.
	HTTPTimeout time.Duration
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when one exists.
func LoadConfig() Config {
	godotenv.Load()

	cfg := Config{
		APIURL:       os.Getenv("POS_API_URL"),
		RedisAddress: os.Getenv("POS_REDIS_ADDRESS"),
		HTTPTimeout:  30 * time.Second,
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8080"
	}
	if v := os.Getenv("POS_HTTP_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.HTTPTimeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}
