// Package config loads backend and client configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (GOOGLE_CLIENT_ID, REDIS_ADDR, AUTOSAVE_DEBOUNCE, ...)
//  2. YAML config file
//  3. Defaults
//
// Keys are flat; an environment variable maps to the key of the same name in
// lower case, so DEV_MODE sets dev_mode.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Config holds every setting of the backend and the notectl client.
type Config struct {
	DevMode   bool   `koanf:"dev_mode"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Backend
	ListenAddr              string        `koanf:"listen_addr"`
	FrontendURL             string        `koanf:"frontend_url"`
	GoogleClientID          string        `koanf:"google_client_id"`
	GoogleRedirectURL       string        `koanf:"google_redirect_url"`
	GoogleClientSecretParam string        `koanf:"google_client_secret_param"`
	JWTSecretParam          string        `koanf:"jwt_secret_param"`
	APIGatewaySecretParam   string        `koanf:"api_gateway_secret_param"`
	KMSKeyID                string        `koanf:"kms_key_id"`
	UserTokensTable         string        `koanf:"user_tokens_table"`
	LoginCodesTable         string        `koanf:"login_codes_table"`
	NotesTable              string        `koanf:"notes_table"`
	NoteStore               string        `koanf:"note_store"`
	PostgresDSN             string        `koanf:"postgres_dsn"`
	RedisAddr               string        `koanf:"redis_addr"`
	RedisPassword           string        `koanf:"redis_password"`
	RedisDB                 int           `koanf:"redis_db"`
	DraftTTL                time.Duration `koanf:"draft_ttl"`
	AccessTokenTTL          time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL         time.Duration `koanf:"refresh_token_ttl"`
	LoginCodeTTL            time.Duration `koanf:"login_code_ttl"`

	// Client
	APIBaseURL            string        `koanf:"api_base_url"`
	NATSURL               string        `koanf:"nats_url"`
	OfflineDir            string        `koanf:"offline_dir"`
	CookieFile            string        `koanf:"cookie_file"`
	RequestTimeout        time.Duration `koanf:"request_timeout"`
	AutosaveDebounce      time.Duration `koanf:"autosave_debounce"`
	AutosaveBatchSize     int           `koanf:"autosave_batch_size"`
	AutosaveBatchInterval time.Duration `koanf:"autosave_batch_interval"`
	BeaconGrace           time.Duration `koanf:"beacon_grace"`
}

// Load reads the YAML file at path (skipped when empty or missing), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.LogLevel, "info")
	setDefault(&cfg.LogFormat, "json")
	setDefault(&cfg.ListenAddr, ":8080")
	setDefault(&cfg.FrontendURL, "http://localhost:3000")
	setDefault(&cfg.GoogleClientSecretParam, "/secondbrain/google-client-secret")
	setDefault(&cfg.JWTSecretParam, "/secondbrain/jwt-secret")
	setDefault(&cfg.APIGatewaySecretParam, "/secondbrain/api-gateway-secret")
	setDefault(&cfg.KMSKeyID, "alias/secondbrain-token-key")
	setDefault(&cfg.UserTokensTable, "UserTokens")
	setDefault(&cfg.LoginCodesTable, "LoginCodes")
	setDefault(&cfg.NotesTable, "Notes")
	setDefault(&cfg.NoteStore, "dynamodb")
	setDefault(&cfg.RedisAddr, "localhost:6379")
	setDefault(&cfg.APIBaseURL, "http://localhost:8080")
	setDefault(&cfg.NATSURL, "nats://127.0.0.1:4222")

	if cfg.GoogleRedirectURL == "" {
		if cfg.DevMode {
			cfg.GoogleRedirectURL = "http://localhost:8080/api/auth/callback"
		} else {
			cfg.GoogleRedirectURL = cfg.FrontendURL + "/api/auth/callback"
		}
	}

	setDuration(&cfg.DraftTTL, 24*time.Hour)
	setDuration(&cfg.AccessTokenTTL, time.Hour)
	setDuration(&cfg.RefreshTokenTTL, 14*24*time.Hour)
	setDuration(&cfg.LoginCodeTTL, time.Minute)
	setDuration(&cfg.RequestTimeout, 10*time.Second)
	setDuration(&cfg.AutosaveDebounce, 500*time.Millisecond)
	setDuration(&cfg.AutosaveBatchInterval, 5*time.Minute)
	setDuration(&cfg.BeaconGrace, 2*time.Second)
	if cfg.AutosaveBatchSize == 0 {
		cfg.AutosaveBatchSize = 50
	}

	if cfg.OfflineDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			cfg.OfflineDir = dir + "/secondbrain/drafts"
		} else {
			cfg.OfflineDir = ".secondbrain/drafts"
		}
	}
	if cfg.CookieFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.CookieFile = dir + "/secondbrain/cookies.json"
		} else {
			cfg.CookieFile = ".secondbrain/cookies.json"
		}
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDuration(field *time.Duration, value time.Duration) {
	if *field == 0 {
		*field = value
	}
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	switch c.NoteStore {
	case "dynamodb":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required when note_store is postgres")
		}
	default:
		return fmt.Errorf("unknown note_store %q (want dynamodb or postgres)", c.NoteStore)
	}
	if c.AutosaveBatchSize < 1 {
		return fmt.Errorf("autosave_batch_size must be positive, got %d", c.AutosaveBatchSize)
	}
	if c.AutosaveDebounce < 0 || c.AutosaveBatchInterval < 0 {
		return fmt.Errorf("autosave durations must not be negative")
	}
	return nil
}
