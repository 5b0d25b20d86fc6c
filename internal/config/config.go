package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    string `json:"http_port"`
	HTTPSPort   string `json:"https_port"`
	Domain      string `json:"domain"`
	HTTPOnly    bool   `json:"http_only"`
	FrontendURI string `json:"frontend_uri"`

	DatabasePath string `json:"database_path"`

	TURNPort          int           `json:"turn_port"`
	TURNRealm         string        `json:"turn_realm"`
	TURNCredentialTTL time.Duration `json:"-"`

	JWTSecret   string     `json:"-"`
	RequireAuth bool       `json:"require_auth"`
	VAPIDKeys   *VAPIDKeys `json:"-"`

	LogLevel           string        `json:"log_level"`
	DefaultAvatarURL   string        `json:"default_avatar_url"`
	DefaultDisplayName string        `json:"default_display_name"`
	CallTTL            time.Duration `json:"-"`
}

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfigFromJSON loads configuration from the config.json next to the executable.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config.json: %w", err)
	}

	return &cfg, nil
}

// Load reads .env, then config.json (if present), then environment variables, then flags.
func Load(httpOnly *bool) *Config {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	cfg, err := LoadConfigFromJSON(filepath.Join(executableDir(), "config.json"))
	if err != nil {
		cfg = &Config{}
	} else {
		slog.Info("custom configuration loaded from config.json")
	}

	applyEnv(cfg)

	if httpOnly != nil && *httpOnly {
		cfg.HTTPOnly = true
	}

	cfg.JWTSecret = loadOrGenerateJWTSecret(keysDirectory())
	cfg.VAPIDKeys = loadVAPIDKeys(keysDirectory())

	return cfg
}

// applyEnv fills cfg from the environment. Environment values win over config.json,
// defaults only apply to fields that are still empty.
func applyEnv(cfg *Config) {
	cfg.HTTPPort = getEnv("HTTP_PORT", orDefault(cfg.HTTPPort, "8080"))
	cfg.HTTPSPort = getEnv("HTTPS_PORT", orDefault(cfg.HTTPSPort, "8443"))
	cfg.Domain = getEnv("DOMAIN", orDefault(cfg.Domain, "localhost"))
	cfg.FrontendURI = getEnv("FRONTEND_URI", cfg.FrontendURI)
	cfg.DatabasePath = getEnv("DATABASE_PATH", orDefault(cfg.DatabasePath, "tutorlive.db"))

	if cfg.TURNPort == 0 {
		cfg.TURNPort = 3478
	}
	cfg.TURNPort = getEnvInt("TURN_PORT", cfg.TURNPort)
	cfg.TURNRealm = getEnv("TURN_REALM", orDefault(cfg.TURNRealm, "tutorlive"))
	cfg.TURNCredentialTTL = getEnvDuration("TURN_CREDENTIAL_TTL", 12*time.Hour)

	cfg.HTTPOnly = getEnvBool("HTTP_ONLY", cfg.HTTPOnly)
	cfg.RequireAuth = getEnvBool("REQUIRE_AUTH", cfg.RequireAuth)

	cfg.LogLevel = getEnv("LOG_LEVEL", orDefault(cfg.LogLevel, "info"))
	cfg.DefaultAvatarURL = getEnv("DEFAULT_AVATAR_URL", orDefault(cfg.DefaultAvatarURL, "https://www.gravatar.com/avatar/?d=mp"))
	cfg.DefaultDisplayName = getEnv("DEFAULT_DISPLAY_NAME", orDefault(cfg.DefaultDisplayName, "Unknown"))
	cfg.CallTTL = getEnvDuration("CALL_TTL", 30*time.Minute)
}

func orDefault(value, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return base64.URLEncoding.EncodeToString(bytes)
}

func loadOrGenerateJWTSecret(keysDir string) string {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return secret
	}

	secretFile := filepath.Join(keysDir, "jwt-secret.key")
	if secretData, err := os.ReadFile(secretFile); err == nil {
		if secret := strings.TrimSpace(string(secretData)); secret != "" {
			return secret
		}
	}

	secret := generateRandomSecret()
	if err := writeKeyFile(keysDir, "jwt-secret.key", secret); err != nil {
		slog.Warn("failed to save JWT secret, it will be regenerated on restart", "error", err)
	}
	return secret
}

func loadVAPIDKeys(keysDir string) *VAPIDKeys {
	subject := getEnv("VAPID_SUBJECT", "mailto:admin@tutorlive.app")

	publicKey := os.Getenv("VAPID_PUBLIC_KEY")
	privateKey := os.Getenv("VAPID_PRIVATE_KEY")
	if publicKey != "" && privateKey != "" {
		return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}
	}

	publicKeyData, pubErr := os.ReadFile(filepath.Join(keysDir, "vapid-public.key"))
	privateKeyData, privErr := os.ReadFile(filepath.Join(keysDir, "vapid-private.key"))
	if pubErr == nil && privErr == nil {
		privateKey = strings.TrimSpace(string(privateKeyData))
		// webpush-go expects the raw 32 byte P-256 scalar.
		if decoded, err := base64.RawURLEncoding.DecodeString(privateKey); err == nil && len(decoded) == 32 {
			return &VAPIDKeys{
				PublicKey:  strings.TrimSpace(string(publicKeyData)),
				PrivateKey: privateKey,
				Subject:    subject,
			}
		}
		slog.Warn("stored VAPID private key is malformed, regenerating")
	}

	keys, err := generateVAPIDKeys(subject)
	if err != nil {
		slog.Error("failed to generate VAPID keys, web push disabled", "error", err)
		return nil
	}
	if err := writeKeyFile(keysDir, "vapid-public.key", keys.PublicKey); err != nil {
		slog.Warn("failed to save VAPID keys, they will be regenerated on restart", "error", err)
		return keys
	}
	if err := writeKeyFile(keysDir, "vapid-private.key", keys.PrivateKey); err != nil {
		slog.Warn("failed to save VAPID keys, they will be regenerated on restart", "error", err)
	}
	return keys
}

func generateVAPIDKeys(subject string) (*VAPIDKeys, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	// Uncompressed point: 0x04 || X || Y.
	publicKeyBytes := make([]byte, 65)
	publicKeyBytes[0] = 0x04
	key.PublicKey.X.FillBytes(publicKeyBytes[1:33])
	key.PublicKey.Y.FillBytes(publicKeyBytes[33:65])

	privateKeyBytes := make([]byte, 32)
	key.D.FillBytes(privateKeyBytes)

	return &VAPIDKeys{
		PublicKey:  base64.RawURLEncoding.EncodeToString(publicKeyBytes),
		PrivateKey: base64.RawURLEncoding.EncodeToString(privateKeyBytes),
		Subject:    subject,
	}, nil
}

func writeKeyFile(keysDir, name, value string) error {
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	return os.WriteFile(filepath.Join(keysDir, name), []byte(value), 0600)
}

func keysDirectory() string {
	return getEnv("KEYS_DIR", filepath.Join(executableDir(), "keys"))
}

func executableDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}
