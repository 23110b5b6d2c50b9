package config_test

import (
	"testing"

	"github.com/nlesc/mdstudio/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults when no
// environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ROUTER_URL", "")
	t.Setenv("MDSTUDIO_REALM", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MDSTUDIO_ROLE", "")
	t.Setenv("SHADOW_MODE", "")

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "mdstudio", cfg.Realm)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.Equal(t, "db", cfg.NodeRole)
	assert.False(t, cfg.ShadowMode)
}

// TestLoad_Overrides verifies that environment variables correctly override
// default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ROUTER_URL", "nats://router.internal:4222")
	t.Setenv("MDSTUDIO_REALM", "mdstudio-staging")
	t.Setenv("DATABASE_URL", "postgres://prod:5432/db")
	t.Setenv("MDSTUDIO_ROLE", "schema")
	t.Setenv("SHADOW_MODE", "true")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "nats://router.internal:4222", cfg.RouterURL)
	assert.Equal(t, "mdstudio-staging", cfg.Realm)
	assert.Equal(t, "postgres://prod:5432/db", cfg.DatabaseURL)
	assert.Equal(t, "schema", cfg.NodeRole)
	assert.True(t, cfg.ShadowMode)
}
