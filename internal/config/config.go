// Package config reads service configuration from the environment.
// Callers load a .env file first (godotenv) where appropriate.
package config

import (
	"fmt"
	"os"
)

// Vector index backends.
const (
	BackendMemory   = "memory"
	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"
)

// Config is the full service configuration.
type Config struct {
	Port    string
	DataDir string

	OpenAIAPIKey string
	ChatModel    string

	VectorBackend string
	QdrantHost    string
	QdrantPort    int
	PostgresURL   string

	OCRServiceURL string
	QueueSize     int
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DataDir:       getEnv("DATA_DIR", "./data"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		ChatModel:     getEnv("CHAT_MODEL", ""),
		VectorBackend: getEnv("VECTOR_BACKEND", BackendMemory),
		QdrantHost:    getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:    getEnvInt("QDRANT_PORT", 6334),
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		OCRServiceURL: os.Getenv("OCR_SERVICE_URL"),
		QueueSize:     getEnvInt("INDEX_QUEUE_SIZE", 0),
	}

	switch cfg.VectorBackend {
	case BackendMemory, BackendQdrant:
	case BackendPgvector:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("POSTGRES_URL is required with VECTOR_BACKEND=pgvector")
		}
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q (want memory, qdrant or pgvector)", cfg.VectorBackend)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
