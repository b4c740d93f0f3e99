package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Storage StorageConfig `mapstructure:"storage"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Log     LogConfig     `mapstructure:"log"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Sites   []SiteConfig  `mapstructure:"sites"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"` // sqlite|postgres
	DSN    string `mapstructure:"dsn"`
}

type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"` // staleness window of SyncIfStale
	Period      time.Duration `mapstructure:"period"`   // background SyncAllPending period
	Concurrency int           `mapstructure:"concurrency"`
}

type RemoteConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	Burst        int           `mapstructure:"burst"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// RedisConfig is optional; an empty Addr keeps locks, cache and events in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	Type           string `mapstructure:"type"` // fs|minio
	LocalPath      string `mapstructure:"local_path"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ServiceName       string `mapstructure:"service_name"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	AdminUser     string        `mapstructure:"admin_user"`
	AdminPassHash string        `mapstructure:"admin_pass_hash"` // bcrypt
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

type SiteConfig struct {
	ID           string `mapstructure:"id"`
	BaseURL      string `mapstructure:"base_url"`
	UserID       int64  `mapstructure:"user_id"`
	Token        string `mapstructure:"token"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.period", 10*time.Minute)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.probe_timeout", 3*time.Second)
	v.SetDefault("remote.rate_per_sec", 10.0)
	v.SetDefault("remote.burst", 5)
	v.SetDefault("remote.cache_ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.type", "fs")
	v.SetDefault("storage.local_path", "./data")
	v.SetDefault("storage.minio_endpoint", "")
	v.SetDefault("storage.minio_access_key", "")
	v.SetDefault("storage.minio_secret_key", "")
	v.SetDefault("storage.minio_bucket", "quizsync")
	v.SetDefault("storage.minio_use_ssl", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "quizsync")
	v.SetDefault("tracing.collector_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/quizsync.log")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.admin_user", "admin")
	v.SetDefault("auth.admin_pass_hash", "")
	v.SetDefault("auth.token_ttl", 8*time.Hour)
}

// Load reads path (a file, or a directory holding config.yaml), then .env,
// then QUIZSYNC_* environment variables. A missing config file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		v.SetConfigFile(path)
	} else {
		if path == "" {
			path = "configs"
		}
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("QUIZSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// secrets also come under their conventional names
	_ = v.BindEnv("auth.jwt_secret", "QUIZSYNC_AUTH_JWT_SECRET", "AUTH_HMAC_SECRET")
	_ = v.BindEnv("auth.admin_pass_hash", "QUIZSYNC_AUTH_ADMIN_PASS_HASH", "ADMIN_PASS_HASH")
	_ = v.BindEnv("db.dsn", "QUIZSYNC_DB_DSN", "DB_DSN")
	_ = v.BindEnv("redis.password", "QUIZSYNC_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("storage.minio_access_key", "QUIZSYNC_STORAGE_MINIO_ACCESS_KEY", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("storage.minio_secret_key", "QUIZSYNC_STORAGE_MINIO_SECRET_KEY", "MINIO_SECRET_KEY")

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, s := range c.Sites {
		if s.ID == "" || s.BaseURL == "" {
			return fmt.Errorf("sites[%d]: id and base_url are required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sites[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	if c.Sync.Concurrency <= 0 {
		return errors.New("sync.concurrency must be positive")
	}
	if c.Sync.Period <= 0 {
		return errors.New("sync.period must be positive")
	}
	if c.Auth.AdminPassHash != "" && len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters when admin login is enabled")
	}
	switch c.Storage.Type {
	case "fs", "minio":
	default:
		return fmt.Errorf("storage.type %q: want fs or minio", c.Storage.Type)
	}
	return nil
}
