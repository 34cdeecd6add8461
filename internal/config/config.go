package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LDAPConfig struct {
	URL             string        `yaml:"url"`
	Domain          string        `yaml:"domain"`
	SearchBase      string        `yaml:"search_base"`
	UserOUs         []string      `yaml:"user_ous"`
	AdminGroup      string        `yaml:"admin_group"`
	ServiceAccount  string        `yaml:"service_account"`
	ServicePassword string        `yaml:"service_password"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
}

// StaticUser is a locally configured account, used when no directory is
// available.
type StaticUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Fullname     string `yaml:"fullname"`
	Email        string `yaml:"email"`
	Department   string `yaml:"department"`
	Position     string `yaml:"position"`
	Admin        bool   `yaml:"admin"`
}

type UploadsConfig struct {
	Dir           string        `yaml:"dir"`
	MaxSizeMB     int64         `yaml:"max_size_mb"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type WebsocketConfig struct {
	SendBuffer     int   `yaml:"send_buffer"`
	MaxMessageSize int64 `yaml:"max_message_size"`
}

type Config struct {
	Environment    string          `yaml:"environment"`
	ServerAddr     string          `yaml:"server_addr"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	SigningSecret  string          `yaml:"signing_key"`
	SigningKey     []byte          `yaml:"-"`
	SessionTTL     time.Duration   `yaml:"session_ttl"`
	LogLevel       string          `yaml:"log_level"`
	Database       DatabaseConfig  `yaml:"database"`
	LDAP           LDAPConfig      `yaml:"ldap"`
	StaticUsers    []StaticUser    `yaml:"static_users"`
	Uploads        UploadsConfig   `yaml:"uploads"`
	Websocket      WebsocketConfig `yaml:"websocket"`
}

func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		ServerAddr:  "localhost:8000",
		SessionTTL:  24 * time.Hour,
		LogLevel:    "info",
		Database: DatabaseConfig{
			Driver: "postgres",
			DSN:    "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		},
		LDAP: LDAPConfig{
			SyncInterval: time.Hour,
		},
		Uploads: UploadsConfig{
			Dir:           "uploads",
			MaxSizeMB:     16,
			Retention:     7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Websocket: WebsocketConfig{
			SendBuffer:     256,
			MaxMessageSize: 64 * 1024,
		},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment != EnvProduction
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file is not an error), a .env file outside production and
// CHAT_* environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	if os.Getenv("CHAT_ENV") != EnvProduction {
		// .env is optional
		_ = godotenv.Load()
	}

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
		return nil
	}

	str("CHAT_ENV", &c.Environment)
	str("CHAT_SERVER_ADDR", &c.ServerAddr)
	str("CHAT_SIGNING_KEY", &c.SigningSecret)
	str("CHAT_LOG_LEVEL", &c.LogLevel)
	str("CHAT_DATABASE_DRIVER", &c.Database.Driver)
	str("CHAT_DATABASE_DSN", &c.Database.DSN)
	str("CHAT_LDAP_URL", &c.LDAP.URL)
	str("CHAT_LDAP_DOMAIN", &c.LDAP.Domain)
	str("CHAT_LDAP_SEARCH_BASE", &c.LDAP.SearchBase)
	str("CHAT_LDAP_ADMIN_GROUP", &c.LDAP.AdminGroup)
	str("CHAT_LDAP_SERVICE_ACCOUNT", &c.LDAP.ServiceAccount)
	str("CHAT_LDAP_SERVICE_PASSWORD", &c.LDAP.ServicePassword)
	str("CHAT_UPLOAD_DIR", &c.Uploads.Dir)

	if v, ok := os.LookupEnv("CHAT_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = SplitList(v, ",")
	}
	if v, ok := os.LookupEnv("CHAT_LDAP_USER_OUS"); ok {
		c.LDAP.UserOUs = SplitList(v, ";")
	}
	if v, ok := os.LookupEnv("CHAT_UPLOAD_MAX_SIZE_MB"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAT_UPLOAD_MAX_SIZE_MB: %w", err)
		}
		c.Uploads.MaxSizeMB = n
	}

	for key, dst := range map[string]*time.Duration{
		"CHAT_SESSION_TTL":         &c.SessionTTL,
		"CHAT_LDAP_SYNC_INTERVAL":  &c.LDAP.SyncInterval,
		"CHAT_FILE_RETENTION":      &c.Uploads.Retention,
		"CHAT_FILE_SWEEP_INTERVAL": &c.Uploads.SweepInterval,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks required settings and decodes the signing key.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}
	if c.LDAP.URL == "" && len(c.StaticUsers) == 0 {
		return fmt.Errorf("no authenticator configured: set ldap.url or static_users")
	}
	if c.LDAP.URL != "" && c.LDAP.Domain == "" {
		return fmt.Errorf("ldap domain cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.Uploads.Dir == "" {
		return fmt.Errorf("upload directory cannot be empty")
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	return nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// SplitList splits s on sep, trimming blanks and dropping empty entries.
func SplitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
