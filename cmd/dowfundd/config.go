package main

import (
	"os"
	"strconv"
	"time"
)

// Config is read once from the environment at startup.
type Config struct {
	AppEnv   string // "dev" or "prod"
	HTTPAddr string

	// Store selection: "postgres", "sqlite" or "memory"
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	CampaignGoalCents int64
	CommitRetries     int
	ShutdownTimeout   time.Duration
}

func LoadConfig() Config {
	return Config{
		AppEnv:            getenv("APP_ENV", "dev"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		StoreDriver:       getenv("STORE_DRIVER", "sqlite"),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		SQLitePath:        getenv("SQLITE_PATH", "dowfund.db"),
		CampaignGoalCents: atoi64(getenv("CAMPAIGN_GOAL_CENTS", "0")),
		CommitRetries:     atoi(getenv("COMMIT_RETRIES", "3")),
		ShutdownTimeout:   dur(getenv("SHUTDOWN_TIMEOUT", "10s")),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atoi64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func dur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
