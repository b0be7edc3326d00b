package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Env           string
	Port          string
	AllowedOrigin string
	LogLevel      string

	// DatabaseDriver is "pgx" (or "postgres") or "sqlite". With no DatabaseURL the
	// server runs on the seeded in-memory store.
	DatabaseDriver string
	DatabaseURL    string

	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RateCacheTTLSeconds int

	KafkaBrokers []string
	KafkaTopic   string

	JaegerEndpoint string
	ServiceName    string

	AuthSecret            string
	AccessTokenTTLMinutes int
}

// Load reads the environment, after loading a .env file when one exists.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	rateTTL, err := strconv.Atoi(getEnv("RATE_CACHE_TTL_SECONDS", "60"))
	if err != nil || rateTTL < 1 {
		rateTTL = 60
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Env:                   getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DatabaseDriver:        getEnv("DATABASE_DRIVER", "pgx"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		RateCacheTTLSeconds:   rateTTL,
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "pos.events"),
		JaegerEndpoint:        os.Getenv("JAEGER_ENDPOINT"),
		ServiceName:           getEnv("SERVICE_NAME", "retailcraft-pos"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
