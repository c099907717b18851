package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBDriver         string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	SQLitePath       string

	LogLevel  string
	LogFormat string

	Timezone           string
	CanonicalThreshold float64
	CandidateLimit     int
	ReprocessLimit     int
	InStockLabel       string
	OutOfStockLabels   []string
	Denylist           []string
	AllowedBrands      []string

	BatchSize      int
	MaxConcurrency int
	MaxRetries     int
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DBDriver:         getEnv("DB_DRIVER", "postgres"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "pricewatch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "pricewatch"),
		PostgresDB:       getEnv("POSTGRES_DB", "pricewatch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/pricewatch.db"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		Timezone:           getEnv("PRICEWATCH_TIMEZONE", "Europe/Oslo"),
		CanonicalThreshold: getEnvFloat("CANONICAL_THRESHOLD", 0.88),
		CandidateLimit:     getEnvInt("CANONICAL_CANDIDATE_LIMIT", 5000),
		ReprocessLimit:     getEnvInt("REPROCESS_LIMIT", 10000),
		InStockLabel:       getEnv("IN_STOCK_LABEL", "på lager"),
		OutOfStockLabels:   getEnvList("OUT_OF_STOCK_LABELS", []string{"ikke på lager", "utsolgt", "out of stock"}),
		Denylist:           getEnvList("DENYLIST", []string{"sleeves", "deck box", "playmat", "binder", "toploader", "portfolio"}),
		AllowedBrands:      getEnvList("ALLOWED_BRANDS", nil),

		BatchSize:      getEnvInt("INGEST_BATCH_SIZE", 50),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),
		MaxRetries:     getEnvInt("MAX_RETRIES", 10),
	}
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value; an empty variable keeps the fallback.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
