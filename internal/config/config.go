package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Storage     StorageConfig             `json:"storage"`
	RemoteFiles RemoteFilesConfig         `json:"remote_files"`
	Diagnosis   DiagnosisConfig           `json:"diagnosis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Chat        ChatConfig                `json:"chat"`
	Sweeper     SweeperConfig             `json:"sweeper"`
}

type BasicConfig struct {
	ServerAddress  string `json:"server_address"`
	CORSConfigPath string `json:"cors_config_path"`
	Environment    string `json:"environment"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// StorageConfig describes the S3 compatible bucket holding uploaded videos.
type StorageConfig struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          *bool  `json:"use_ssl"`
	KeyPrefix       string `json:"key_prefix"`
}

// RemoteFilesConfig describes the inference service file API.
type RemoteFilesConfig struct {
	BaseURL           string `json:"base_url"`
	APIKey            string `json:"api_key"`
	PollIntervalSec   int    `json:"poll_interval_seconds"`
	ProcessingTimeout int    `json:"processing_timeout_seconds"`
	HTTPTimeoutSec    int    `json:"http_timeout_seconds"`
	// InsecureSkipTLSVerify disables certificate and hostname checks for every
	// call to the file API and the generation API. Unsafe; opt-in only.
	InsecureSkipTLSVerify bool `json:"insecure_skip_tls_verify"`
}

type DiagnosisConfig struct {
	Model string `json:"model"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type ChatConfig struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	EnableWebSearch bool   `json:"enable_web_search"`
	ReplyTimeoutSec int    `json:"reply_timeout_seconds"`

	GoogleAPIKey         string `json:"google_api_key"`
	GoogleSearchEngineID string `json:"google_search_engine_id"`
}

type SweeperConfig struct {
	IntervalMinutes int `json:"interval_minutes"`
	MaxAgeHours     int `json:"max_age_hours"`
}

const (
	DefaultServerAddress  = ":8000"
	DefaultRemoteBaseURL  = "https://generativelanguage.googleapis.com"
	DefaultDiagnosisModel = "gemini-2.0-flash-001"
	DefaultStorageRegion  = "us-east-1"
	DefaultKeyPrefix      = "videos/"
)

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; environment variables (and a .env
// file next to the working directory) fill in or override secrets.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		resolveRelative(&cfg, filepath.Dir(absPath))
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the process cannot start without. Missing
// storage or AI credentials are not fatal: those components report
// themselves as not configured at call time.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}
	if c.RemoteFiles.PollIntervalSec < 0 || c.RemoteFiles.ProcessingTimeout < 0 {
		return errors.New("remote_files intervals cannot be negative")
	}
	if u, err := url.Parse(c.RemoteFiles.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote_files.base_url %q is not an absolute url", c.RemoteFiles.BaseURL)
	}
	return nil
}

// IsPlaceholder reports whether v is empty or still holds a template value.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.HasPrefix(strings.ToLower(v), "your_")
}

func (r RemoteFilesConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSec) * time.Second
}

func (r RemoteFilesConfig) Timeout() time.Duration {
	return time.Duration(r.ProcessingTimeout) * time.Second
}

func (r RemoteFilesConfig) HTTPTimeout() time.Duration {
	return time.Duration(r.HTTPTimeoutSec) * time.Second
}

func (s StorageConfig) SSL() bool {
	return s.UseSSL == nil || *s.UseSSL
}

func (s SweeperConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s SweeperConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeHours) * time.Hour
}

func (c ChatConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutSec) * time.Second
}

func resolveRelative(cfg *Config, base string) {
	if sq, ok := cfg.Databases["sqlite3"]; ok && sq.DSN != "" && !filepath.IsAbs(sq.DSN) && !strings.HasPrefix(sq.DSN, "file:") && sq.DSN != ":memory:" {
		sq.DSN = filepath.Join(base, sq.DSN)
		cfg.Databases["sqlite3"] = sq
	}
	if p := cfg.BasicConfig.CORSConfigPath; p != "" && !filepath.IsAbs(p) {
		cfg.BasicConfig.CORSConfigPath = filepath.Join(base, p)
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.RemoteFiles.APIKey, "GEMINI_API_KEY")
	setString(&cfg.Storage.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&cfg.Storage.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.Storage.Region, "AWS_REGION")
	setString(&cfg.Storage.Bucket, "AWS_S3_BUCKET")
	setString(&cfg.Storage.Endpoint, "S3_ENDPOINT")
	setString(&cfg.BasicConfig.Environment, "APP_ENV")
	setString(&cfg.Chat.GoogleAPIKey, "GOOGLE_API_KEY")
	setString(&cfg.Chat.GoogleSearchEngineID, "GOOGLE_SEARCH_ENGINE_ID")
	if port := os.Getenv("PORT"); port != "" {
		cfg.BasicConfig.ServerAddress = ":" + port
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if cfg.Databases == nil {
			cfg.Databases = make(map[string]DatabaseConfig)
		}
		pg := cfg.Databases["postgres"]
		pg.DSN = dsn
		cfg.Databases["postgres"] = pg
	}
	if u := os.Getenv("REDIS_URL"); u != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.URL = u
	}
	if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.Redis.DB = n
	}
	for name, envKey := range map[string]string{"gemini": "GEMINI_API_KEY", "openai": "OPENAI_API_KEY", "claude": "ANTHROPIC_API_KEY"} {
		key := os.Getenv(envKey)
		if key == "" {
			continue
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.Providers[name]
		if p.APIKey == "" {
			p.APIKey = key
		}
		cfg.Providers[name] = p
	}
}

func applyDefaults(cfg *Config) {
	if cfg.BasicConfig.ServerAddress == "" {
		cfg.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if cfg.BasicConfig.CORSConfigPath == "" {
		cfg.BasicConfig.CORSConfigPath = "cors-config.json"
	}
	if len(cfg.Databases) == 0 {
		cfg.Databases = map[string]DatabaseConfig{"sqlite3": {DSN: "./data/fridgeclinic.db"}}
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = DefaultStorageRegion
	}
	if cfg.Storage.Endpoint == "" {
		cfg.Storage.Endpoint = "s3.amazonaws.com"
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.RemoteFiles.BaseURL == "" {
		cfg.RemoteFiles.BaseURL = DefaultRemoteBaseURL
	}
	if cfg.RemoteFiles.PollIntervalSec == 0 {
		cfg.RemoteFiles.PollIntervalSec = 5
	}
	if cfg.RemoteFiles.ProcessingTimeout == 0 {
		cfg.RemoteFiles.ProcessingTimeout = 300
	}
	if cfg.RemoteFiles.HTTPTimeoutSec == 0 {
		cfg.RemoteFiles.HTTPTimeoutSec = 120
	}
	if cfg.Diagnosis.Model == "" {
		cfg.Diagnosis.Model = DefaultDiagnosisModel
	}
	if cfg.Chat.Provider == "" {
		cfg.Chat.Provider = "gemini"
	}
	if cfg.Chat.ReplyTimeoutSec == 0 {
		cfg.Chat.ReplyTimeoutSec = 120
	}
	if cfg.Sweeper.IntervalMinutes == 0 {
		cfg.Sweeper.IntervalMinutes = 30
	}
	if cfg.Sweeper.MaxAgeHours == 0 {
		cfg.Sweeper.MaxAgeHours = 48
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
