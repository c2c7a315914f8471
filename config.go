package main

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds everything read from the environment at startup.
type AppConfig struct {
	Port              string
	DatabaseDSN       string
	JWTSecret         string
	LogLevel          string
	SchedulerInterval time.Duration
}

var cfg *AppConfig

func loadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded, relying on OS environment:", err)
	}

	secret := getEnv("JWT_SECRET", "dev-insecure-secret-change")
	if secret == "dev-insecure-secret-change" {
		log.Println("WARNING: using default insecure JWT_SECRET, set JWT_SECRET for production")
	}

	cfg = &AppConfig{
		Port:              getEnv("PORT", "8081"),
		DatabaseDSN:       os.Getenv("DB_DSN"),
		JWTSecret:         secret,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SchedulerInterval: getEnvAsDuration("SCHEDULER_INTERVAL", time.Minute),
	}
	jwtSecret = []byte(cfg.JWTSecret)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid duration for %s (%q), using default %s", key, v, fallback)
		return fallback
	}
	return d
}
