// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr      string
	DBPath    string
	DataDir   string
	UploadDir string

	JWTSecret string
	TokenTTL  time.Duration

	// All completion models are served through one OpenAI-compatible
	// endpoint; the fallback chain is a list of model names on it.
	LLMBaseURL      string
	LLMAPIKey       string
	PrimaryModel    string
	SecondaryModel  string
	TertiaryModel   string
	ClassifierModel string
	EmbeddingModel  string

	SerperAPIKey string
	HordeBaseURL string
	HordeAPIKey  string

	HistoryWindow    int
	HistoryTokens    int
	RetrievalTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is honoured when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:      getenv("PARLEY_ADDR", ":8100"),
		DBPath:    getenv("PARLEY_DB_PATH", "parley.db"),
		DataDir:   getenv("PARLEY_DATA_DIR", "data"),
		UploadDir: getenv("PARLEY_UPLOAD_DIR", "data/uploads"),

		JWTSecret: getenv("PARLEY_JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:  getduration("PARLEY_TOKEN_TTL", 7*24*time.Hour),

		LLMBaseURL:      getenv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		PrimaryModel:    getenv("LLM_PRIMARY_MODEL", "gpt-4o"),
		SecondaryModel:  getenv("LLM_SECONDARY_MODEL", "gpt-4o-mini"),
		TertiaryModel:   getenv("LLM_TERTIARY_MODEL", "gpt-3.5-turbo"),
		ClassifierModel: getenv("LLM_CLASSIFIER_MODEL", "gpt-4o-mini"),
		EmbeddingModel:  getenv("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),

		SerperAPIKey: os.Getenv("SERPER_API_KEY"),
		HordeBaseURL: getenv("HORDE_BASE_URL", "https://stablehorde.net/api/v2"),
		HordeAPIKey:  getenv("HORDE_API_KEY", "0000000000"),

		HistoryWindow:    getint("PARLEY_HISTORY_WINDOW", 10),
		HistoryTokens:    getint("PARLEY_HISTORY_TOKENS", 4000),
		RetrievalTimeout: getduration("PARLEY_RETRIEVAL_TIMEOUT", 2*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
