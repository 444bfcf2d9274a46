// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: NVM_STORAGE_PATH sets storage.path.
const EnvPrefix = "NVM"

// Storage backends.
const (
	BackendJSON  = "json"
	BackendRedis = "redis"
)

// Config holds all application configuration.
type Config struct {
	OAuth   OAuthConfig   `mapstructure:"oauth"`
	YouTube YouTubeConfig `mapstructure:"youtube"`
	Vault   VaultConfig   `mapstructure:"vault"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
}

// OAuthConfig points at the provider's authorization endpoints.
type OAuthConfig struct {
	RedirectURL string `mapstructure:"redirect_url"`
	AuthURL     string `mapstructure:"auth_url"`
	TokenURL    string `mapstructure:"token_url"`
	RevokeURL   string `mapstructure:"revoke_url"`
}

// YouTubeConfig overrides the Data API endpoint.
type YouTubeConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// VaultConfig holds the installation secrets the credential key is derived from.
type VaultConfig struct {
	Secrets []string `mapstructure:"secrets"`
}

// StorageConfig selects where records and state live.
type StorageConfig struct {
	// Backend is "json" (records and state in one file) or "redis" (state in
	// Redis, records in the JSON file).
	Backend string `mapstructure:"backend"`
	// Path is the JSON store file.
	Path string `mapstructure:"path"`
	// MediaDir receives downloaded thumbnails. Empty stores source URLs only.
	MediaDir string `mapstructure:"media_dir"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// HTTPConfig bounds outbound requests.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// RetryConfig controls backoff for catalog calls.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

// SyncConfig bounds sync runs.
type SyncConfig struct {
	// MaxVideos caps a run. 0 means unbounded.
	MaxVideos int `mapstructure:"max_videos"`
	// RunTimeout bounds a run's duration. 0 means no budget.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// LockTTL is how long a Redis run lock survives a crashed holder.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("oauth.redirect_url", "http://localhost:8085/oauth/callback")
	v.SetDefault("oauth.auth_url", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("oauth.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("oauth.revoke_url", "https://oauth2.googleapis.com/revoke")
	v.SetDefault("youtube.endpoint", "")
	v.SetDefault("vault.secrets", []string{})
	v.SetDefault("storage.backend", BackendJSON)
	v.SetDefault("storage.path", "videosync.json")
	v.SetDefault("storage.media_dir", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "videosync:")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.requests_per_second", 5.0)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("sync.max_videos", 0)
	v.SetDefault("sync.run_timeout", 0)
	v.SetDefault("sync.lock_ttl", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// New returns a viper instance with defaults, config search paths and
// environment overrides registered. file, when non-empty, is used instead of
// the search paths.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("videosync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.videosync")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes v into a validated Config.
// A missing file in the search paths is not an error; a missing explicit
// file is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || v.ConfigFileUsed() != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// NVM_VAULT_SECRETS is comma separated.
	cfg.Vault.Secrets = splitList(cfg.Vault.Secrets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that configuration values are valid and consistent.
// It reports every problem found, not only the first.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendJSON, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendJSON, BackendRedis, c.Storage.Backend))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.Backend == BackendRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for the redis backend"))
	}
	if c.OAuth.RedirectURL == "" {
		errs = append(errs, errors.New("oauth.redirect_url is required"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.HTTP.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("http.requests_per_second must be non-negative"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must be non-negative"))
	}
	if c.Retry.InitialBackoff <= 0 {
		errs = append(errs, errors.New("retry.initial_backoff must be positive"))
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, errors.New("retry.max_backoff must be >= retry.initial_backoff"))
	}
	if c.Retry.Multiplier <= 1 {
		errs = append(errs, errors.New("retry.multiplier must be > 1"))
	}
	if c.Sync.MaxVideos < 0 {
		errs = append(errs, errors.New("sync.max_videos must be non-negative"))
	}
	if c.Sync.RunTimeout < 0 {
		errs = append(errs, errors.New("sync.run_timeout must be non-negative"))
	}
	if c.Sync.LockTTL <= 0 {
		errs = append(errs, errors.New("sync.lock_ttl must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
