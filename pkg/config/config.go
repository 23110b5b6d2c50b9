// Package config loads process configuration from the environment, the
// same 12-factor style as the teacher: a handful of env vars with sane
// local-dev defaults, no config file parsing.
package config

import (
	"os"
	"strconv"
)

// Config holds the settings a node needs to join the router, talk to its
// database, and log at the right level.
type Config struct {
	LogLevel    string
	RouterURL   string
	Realm       string
	DatabaseURL string
	NodeRole    string
	Credentials map[string]string
	ShadowMode  bool
	RedisURL    string
}

// Load reads Config from the environment, falling back to local-dev
// defaults for anything unset.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	routerURL := os.Getenv("ROUTER_URL")
	if routerURL == "" {
		routerURL = "nats://localhost:4222"
	}

	realm := os.Getenv("MDSTUDIO_REALM")
	if realm == "" {
		realm = "mdstudio"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://mdstudio@localhost:5432/mdstudio?sslmode=disable"
	}

	role := os.Getenv("MDSTUDIO_ROLE")
	if role == "" {
		role = "db"
	}

	shadowMode, _ := strconv.ParseBool(os.Getenv("SHADOW_MODE"))

	return &Config{
		LogLevel:    logLevel,
		RouterURL:   routerURL,
		Realm:       realm,
		DatabaseURL: dbURL,
		NodeRole:    role,
		Credentials: map[string]string{"role": role, "secret": os.Getenv("MDSTUDIO_SECRET")},
		ShadowMode:  shadowMode,
		RedisURL:    os.Getenv("REDIS_URL"),
	}
}
