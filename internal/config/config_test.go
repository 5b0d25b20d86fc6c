package config

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnvDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "DATABASE_PATH", "TURN_PORT", "REQUIRE_AUTH", "CALL_TTL", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := &Config{}
	applyEnv(cfg)

	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, "tutorlive.db", cfg.DatabasePath)
	require.Equal(t, 3478, cfg.TURNPort)
	require.False(t, cfg.RequireAuth)
	require.Equal(t, 30*time.Minute, cfg.CallTTL)
	require.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestApplyEnvOverridesJSON(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("REQUIRE_AUTH", "true")
	t.Setenv("CALL_TTL", "5m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TURN_PORT", "")

	cfg := &Config{HTTPPort: "7000", TURNPort: 5000, DatabasePath: "from-json.db"}
	applyEnv(cfg)

	require.Equal(t, "9090", cfg.HTTPPort)
	require.Equal(t, 5000, cfg.TURNPort)
	require.Equal(t, "from-json.db", cfg.DatabasePath)
	require.True(t, cfg.RequireAuth)
	require.Equal(t, 5*time.Minute, cfg.CallTTL)
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestJWTSecretPersistsAcrossLoads(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	dir := t.TempDir()

	first := loadOrGenerateJWTSecret(dir)
	require.NotEmpty(t, first)
	second := loadOrGenerateJWTSecret(dir)
	require.Equal(t, first, second)

	t.Setenv("JWT_SECRET", "from-env")
	require.Equal(t, "from-env", loadOrGenerateJWTSecret(dir))
}

func TestVAPIDKeysAreGeneratedOnceInRawFormat(t *testing.T) {
	t.Setenv("VAPID_PUBLIC_KEY", "")
	t.Setenv("VAPID_PRIVATE_KEY", "")
	dir := t.TempDir()

	keys := loadVAPIDKeys(dir)
	require.NotNil(t, keys)

	priv, err := base64.RawURLEncoding.DecodeString(keys.PrivateKey)
	require.NoError(t, err)
	require.Len(t, priv, 32)
	pub, err := base64.RawURLEncoding.DecodeString(keys.PublicKey)
	require.NoError(t, err)
	require.Len(t, pub, 65)

	_, err = os.Stat(filepath.Join(dir, "vapid-private.key"))
	require.NoError(t, err)

	again := loadVAPIDKeys(dir)
	require.Equal(t, keys.PrivateKey, again.PrivateKey)
}
