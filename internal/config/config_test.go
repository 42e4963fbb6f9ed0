package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  read_timeout: 5s
auth:
  jwt_secret: file-secret
database:
  url: postgres://file/db
rate_limit:
  enabled: false
`), 0o600)
	require.NoError(t, err)

	t.Setenv("DILIGENCE_DATABASE_URL", "postgres://env/db")
	t.Setenv("DILIGENCE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	// Unset file keys keep their defaults.
	require.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	require.False(t, cfg.RateLimit.Enabled)

	// Environment wins over the file.
	require.Equal(t, "postgres://env/db", cfg.Database.URL)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "file-secret", cfg.Auth.JWTSecret)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("DILIGENCE_JWT_SECRET", "")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("DILIGENCE_JWT_SECRET", "env-secret")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestLoadOrDefaultFallsBackWhenFileMissing(t *testing.T) {
	t.Setenv("DILIGENCE_JWT_SECRET", "env-secret")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "@hourly", cfg.Workflow.DeadlineSchedule)
	require.True(t, cfg.Database.Migrate)
}
