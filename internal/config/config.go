package config

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// PIIHashKey keys the HMAC digests used for identifier lookups.
	// PIIEncryptionKey protects identifier values at rest. Both are
	// 64-character hex strings (32 bytes decoded).
	PIIHashKey       string `mapstructure:"PII_HASH_KEY"`
	PIIEncryptionKey string `mapstructure:"PII_ENCRYPTION_KEY"`

	// MatchMinConfidence is the floor below which probabilistic
	// candidates are discarded. MatchAutoLinkThreshold is the score at
	// or above which a candidate is graded certain.
	MatchMinConfidence     float64 `mapstructure:"MATCH_MIN_CONFIDENCE"`
	MatchAutoLinkThreshold float64 `mapstructure:"MATCH_AUTO_LINK_THRESHOLD"`

	AuditBufferSize int `mapstructure:"AUDIT_BUFFER_SIZE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MATCH_MIN_CONFIDENCE", 0.55)
	v.SetDefault("MATCH_AUTO_LINK_THRESHOLD", 0.95)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("PII_HASH_KEY")
	v.BindEnv("PII_ENCRYPTION_KEY")
	v.BindEnv("MATCH_MIN_CONFIDENCE")
	v.BindEnv("MATCH_AUTO_LINK_THRESHOLD")
	v.BindEnv("AUDIT_BUFFER_SIZE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_SIGNING_KEY.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production
// JWT signing material and both PII keys are required; PII keys must be
// valid 64-character hex strings (32 bytes when decoded).
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production. " +
			"Refusing to start without authentication configuration")
	}

	if c.IsProduction() && c.PIIHashKey == "" {
		return fmt.Errorf("PII_HASH_KEY is required in production")
	}
	if c.IsProduction() && c.PIIEncryptionKey == "" {
		return fmt.Errorf("PII_ENCRYPTION_KEY is required in production")
	}
	for name, key := range map[string]string{
		"PII_HASH_KEY":       c.PIIHashKey,
		"PII_ENCRYPTION_KEY": c.PIIEncryptionKey,
	} {
		if key == "" {
			continue
		}
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("%s is not valid hex: %w", name, err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("%s must be 32 bytes (64 hex chars), got %d bytes", name, len(keyBytes))
		}
	}

	if c.MatchMinConfidence < 0 || c.MatchMinConfidence > 1 {
		return fmt.Errorf("MATCH_MIN_CONFIDENCE must be within [0,1], got %v", c.MatchMinConfidence)
	}
	if c.MatchAutoLinkThreshold < 0 || c.MatchAutoLinkThreshold > 1 {
		return fmt.Errorf("MATCH_AUTO_LINK_THRESHOLD must be within [0,1], got %v", c.MatchAutoLinkThreshold)
	}
	if c.MatchAutoLinkThreshold < c.MatchMinConfidence {
		return fmt.Errorf("MATCH_AUTO_LINK_THRESHOLD (%v) must not be below MATCH_MIN_CONFIDENCE (%v)",
			c.MatchAutoLinkThreshold, c.MatchMinConfidence)
	}

	return nil
}
