package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"GRAINS_CONFIG", "DB_DRIVER", "DB_SOURCE", "SERVER_PORT", "ENVIRONMENT", "JWT_SECRET",
		"LOCK_TIMEOUT", "TX_MAX_ATTEMPTS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "AUDIT_SCHEDULE", "MIGRATE_ON_START",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_SOURCE", "postgres://localhost/grains")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, "@every 5m", cfg.AuditSchedule)
	assert.True(t, cfg.MigrateOnStart)
}

func TestLoadRequiresDBSource(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.ErrorContains(t, err, "DB_SOURCE")
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_SOURCE", "postgres://localhost/grains")
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "grains.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_driver = "sqlite"
db_source = "/var/lib/grains.db"
server_port = "9000"
lock_timeout = "750ms"
tx_max_attempts = 3
migrate_on_start = false
`), 0o600))
	t.Setenv("GRAINS_CONFIG", path)
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "/var/lib/grains.db", cfg.DBSource)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 3, cfg.TxMaxAttempts)
	assert.False(t, cfg.MigrateOnStart)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DB_DRIVER", "mysql"},
		{"LOCK_TIMEOUT", "soon"},
		{"TX_MAX_ATTEMPTS", "0"},
		{"RATE_LIMIT_RPS", "-1"},
		{"MIGRATE_ON_START", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DB_SOURCE", "postgres://localhost/grains")
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
