package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Linking   LinkingConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type AuthConfig struct {
	// Shared secret the external identity provider signs bearer tokens with
	IdPTokenSecret string
	// 32-byte AES-256 key protecting stored TOTP secrets (hex encoded in env)
	TOTPEncryptionKey []byte
	TOTPIssuer        string
	ResetCodeTTL      time.Duration
	CleanupInterval   time.Duration
}

type LinkingConfig struct {
	// Sponsor prefix prepended to every linking code
	CodePrefix string
	CodeTTL    time.Duration
	// 32-byte AES-256 key protecting stored linking codes (hex encoded in env)
	CodeEncryptionKey []byte
}

type RateLimitConfig struct {
	PasswordResetWindow    time.Duration
	PasswordResetThreshold int
	OTPVerifyWindow        time.Duration
	OTPVerifyThreshold     int
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	PortalURL   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	idpSecret := getEnv("IDP_TOKEN_SECRET", "")
	if idpSecret == "" {
		return nil, fmt.Errorf("IDP_TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")

	codeKey, err := getEnvAsKey("CODE_ENCRYPTION_KEY")
	if err != nil {
		return nil, err
	}
	totpKey, err := getEnvAsKey("TOTP_ENCRYPTION_KEY")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "portal"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Auth: AuthConfig{
			IdPTokenSecret:    idpSecret,
			TOTPEncryptionKey: totpKey,
			TOTPIssuer:        getEnv("TOTP_ISSUER", "TrialBridge Portal"),
			ResetCodeTTL:      getEnvAsDuration("RESET_CODE_TTL", 1*time.Hour),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Linking: LinkingConfig{
			CodePrefix:        getEnv("LINKING_CODE_PREFIX", "TB"),
			CodeTTL:           getEnvAsDuration("LINKING_CODE_TTL", 72*time.Hour),
			CodeEncryptionKey: codeKey,
		},
		RateLimit: RateLimitConfig{
			PasswordResetWindow:    getEnvAsDuration("PASSWORD_RESET_WINDOW", 15*time.Minute),
			PasswordResetThreshold: getEnvAsInt("PASSWORD_RESET_THRESHOLD", 3),
			OTPVerifyWindow:        getEnvAsDuration("OTP_VERIFY_WINDOW", 15*time.Minute),
			OTPVerifyThreshold:     getEnvAsInt("OTP_VERIFY_THRESHOLD", 5),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@trialbridge.example"),
			PortalURL:   getEnv("PORTAL_URL", "http://localhost:3000"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateTokenSecret(idpSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateTokenSecret enforces minimum strength for the IdP shared secret
func validateTokenSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("IDP_TOKEN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("IDP_TOKEN_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsKey decodes a hex-encoded 32-byte AES-256 key
func getEnvAsKey(key string) ([]byte, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, fmt.Errorf("%s is required", key)
	}

	decoded, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex encoded: %w", key, err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("%s must decode to exactly 32 bytes, got %d", key, len(decoded))
	}

	return decoded, nil
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
