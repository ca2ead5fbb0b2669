// Package config loads trustkit configuration from defaults, an optional
// YAML file and TRUSTKIT_* environment variables.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	authModels "trustkit/internal/authgate/models"
	"trustkit/internal/maintenance"
)

// EnvPrefix is prepended to every environment override, e.g.
// TRUSTKIT_SERVER_ADDR for server.addr.
const EnvPrefix = "TRUSTKIT"

type Config struct {
	Env         string               `mapstructure:"env" validate:"oneof=development test production"`
	Server      ServerConfig         `mapstructure:"server"`
	Log         LogConfig            `mapstructure:"log"`
	Audit       AuditConfig          `mapstructure:"audit"`
	Vault       VaultConfig          `mapstructure:"vault"`
	Auth        authModels.Policy    `mapstructure:"auth"`
	Trust       TrustConfig          `mapstructure:"trust"`
	Encryption  EncryptionConfig     `mapstructure:"encryption"`
	Maintenance maintenance.Schedule `mapstructure:"maintenance"`
	Redis       RedisConfig          `mapstructure:"redis"`
	Database    DatabaseConfig       `mapstructure:"database"`
}

// ServerConfig covers the admin HTTP listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	AdminToken        string        `mapstructure:"admin_token"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=1"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
	// File, when set, receives a copy of every line through a rotating writer.
	File         string        `mapstructure:"file"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

type AuditConfig struct {
	Store        string        `mapstructure:"store" validate:"oneof=memory postgres"`
	File         string        `mapstructure:"file"`
	KafkaBrokers []string      `mapstructure:"kafka_brokers"`
	KafkaTopic   string        `mapstructure:"kafka_topic" validate:"required_with=KafkaBrokers"`
	AsyncBuffer  int           `mapstructure:"async_buffer" validate:"gte=0"`
	Retention    time.Duration `mapstructure:"retention" validate:"gte=0"`

	// MemoryMaxEntries caps the in-memory store; the oldest entries go first.
	MemoryMaxEntries int `mapstructure:"memory_max_entries" validate:"gte=0"`
}

type VaultConfig struct {
	Backend  string `mapstructure:"backend" validate:"oneof=memory bolt redis"`
	BoltPath string `mapstructure:"bolt_path" validate:"required_if=Backend bolt"`
	Scope    string `mapstructure:"scope" validate:"required"`
	// Encrypt wraps the durable backend so values are sealed at rest.
	Encrypt        bool     `mapstructure:"encrypt"`
	AccessControls []string `mapstructure:"access_controls" validate:"dive,oneof=none devicePasscode biometryCurrentSet"`
}

type TrustConfig struct {
	Pins              []PinConfig   `mapstructure:"pins" validate:"dive"`
	ValidateChain     bool          `mapstructure:"validate_chain"`
	RootsFile         string        `mapstructure:"roots_file"`
	CheckExpiration   bool          `mapstructure:"check_expiration"`
	EnableOCSP        bool          `mapstructure:"enable_ocsp"`
	FailOnRevoked     bool          `mapstructure:"fail_on_revoked"`
	OCSPTimeout       time.Duration `mapstructure:"ocsp_timeout" validate:"gte=0"`
	RequireCT         bool          `mapstructure:"require_ct"`
	MinimumSCTs       int           `mapstructure:"minimum_scts" validate:"gte=0"`
	TrustedLogKeys    []string      `mapstructure:"trusted_log_keys"`
	ReportOnly        bool          `mapstructure:"report_only"`
	MinimumTLSVersion string        `mapstructure:"minimum_tls_version" validate:"oneof=1.2 1.3"`
}

// PinConfig is one pinned host. Pins are written "spki-sha256:<b64>" or
// "cert-sha256:<b64>". Hosts are a list rather than map keys because viper
// splits keys on dots.
type PinConfig struct {
	Host    string   `mapstructure:"host" validate:"required,hostname_rfc1123|startswith=*."`
	Pin     string   `mapstructure:"pin" validate:"required"`
	Backups []string `mapstructure:"backups"`
}

type EncryptionConfig struct {
	// MasterKey is base64 of 32 bytes. Development generates one per process.
	MasterKey string `mapstructure:"master_key"`
	Algorithm string `mapstructure:"algorithm" validate:"oneof=aes-256-gcm xchacha20-poly1305"`

	key []byte
}

// Key returns the decoded master key.
func (e EncryptionConfig) Key() []byte { return e.key }

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

var validate = validator.New()

// Load reads configuration. path may be empty, in which case only defaults and
// the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.addr", ":8443")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("server.requests_per_second", 5.0)
	v.SetDefault("server.burst", 20)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.rotation_time", 24*time.Hour)
	v.SetDefault("log.max_age", 30*24*time.Hour)

	v.SetDefault("audit.store", "memory")
	v.SetDefault("audit.file", "")
	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.kafka_topic", "trustkit.audit")
	v.SetDefault("audit.async_buffer", 1024)
	v.SetDefault("audit.retention", 90*24*time.Hour)
	v.SetDefault("audit.memory_max_entries", 100_000)

	v.SetDefault("vault.backend", "memory")
	v.SetDefault("vault.bolt_path", "")
	v.SetDefault("vault.scope", "default")
	v.SetDefault("vault.encrypt", true)
	v.SetDefault("vault.access_controls", []string{"none", "devicePasscode", "biometryCurrentSet"})

	policy := authModels.DefaultPolicy()
	v.SetDefault("auth.require_recent_authentication", policy.RequireRecentAuthentication)
	v.SetDefault("auth.validity_duration", policy.ValidityDuration)
	v.SetDefault("auth.max_failed_attempts", policy.MaxFailedAttempts)
	v.SetDefault("auth.lockout_duration", policy.LockoutDuration)
	v.SetDefault("auth.allow_passcode_fallback", policy.AllowPasscodeFallback)
	v.SetDefault("auth.lock_after_background", policy.LockAfterBackground)
	v.SetDefault("auth.inactivity_timeout", policy.InactivityTimeout)

	v.SetDefault("trust.validate_chain", true)
	v.SetDefault("trust.roots_file", "")
	v.SetDefault("trust.check_expiration", true)
	v.SetDefault("trust.enable_ocsp", false)
	v.SetDefault("trust.fail_on_revoked", false)
	v.SetDefault("trust.ocsp_timeout", 5*time.Second)
	v.SetDefault("trust.require_ct", false)
	v.SetDefault("trust.minimum_scts", 2)
	v.SetDefault("trust.trusted_log_keys", []string{})
	v.SetDefault("trust.report_only", false)
	v.SetDefault("trust.minimum_tls_version", "1.2")

	v.SetDefault("encryption.master_key", "")
	v.SetDefault("encryption.algorithm", "aes-256-gcm")

	schedule := maintenance.DefaultSchedule()
	v.SetDefault("maintenance.vault_sweep", schedule.VaultSweep)
	v.SetDefault("maintenance.rotation_prune", schedule.RotationPrune)
	v.SetDefault("maintenance.audit_prune", schedule.AuditPrune)
	v.SetDefault("maintenance.audit_retention", schedule.AuditRetention)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
}

// Validate checks struct tags and the cross-field rules tags cannot express.
// It also decodes the master key.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Audit.Store == "postgres" && c.Database.URL == "" {
		return errors.New("invalid config: audit.store=postgres requires database.url")
	}
	if c.Vault.Backend == "redis" && c.Redis.URL == "" {
		return errors.New("invalid config: vault.backend=redis requires redis.url")
	}

	switch {
	case c.Encryption.MasterKey != "":
		key, err := base64.StdEncoding.DecodeString(c.Encryption.MasterKey)
		if err != nil {
			return fmt.Errorf("invalid config: encryption.master_key must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("invalid config: encryption.master_key must be 32 bytes, got %d", len(key))
		}
		c.Encryption.key = key
	case c.IsProduction():
		return errors.New("invalid config: encryption.master_key is required in production")
	default:
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generate development master key: %w", err)
		}
		c.Encryption.key = key
		slog.Warn("encryption.master_key not set; using a per-process key, sealed vault items will not survive a restart")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
