package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_ENV", "none")
	t.Setenv("CHATHUB_JWT_SECRET", "s3cret")
	t.Setenv("CHATHUB_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("CHATHUB_RING_TIMEOUT", "10s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.JWTSecret)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	require.Equal(t, 10*time.Second, cfg.RingTimeout)
	require.Equal(t, 8000, cfg.Port)
	require.Equal(t, "sqlite", cfg.DBDriver)
	require.Equal(t, 5000, cfg.MaxContentLength)
	require.Equal(t, 30*time.Second, cfg.PingPeriod)
	require.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
}

func TestLoad_File(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := "mode: debug\nport: 9001\ndb_driver: memory\njwt_secret: abc\ncors_origins:\n  - http://x.test\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.Debug())
	require.Equal(t, 9001, cfg.Port)
	require.Equal(t, "memory", cfg.DBDriver)
	require.Equal(t, []string{"http://x.test"}, cfg.CORSOrigins)
}

func TestLoad_RequiresSecret(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_ENV", "none")
	_, err := Load()
	require.ErrorContains(t, err, "jwt_secret")
}

func TestValidate_Driver(t *testing.T) {
	cfg := &Config{JWTSecret: "x", DBDriver: "mysql", RingTimeout: time.Second}
	require.Error(t, cfg.Validate())
	cfg.DBDriver = "memory"
	require.NoError(t, cfg.Validate())
}
