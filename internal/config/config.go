// Package config loads service configuration from YAML with
// environment variable overrides for deploy-time settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	QueueName     string `yaml:"queueName"`
	QueueWorkers  int    `yaml:"queueWorkers"`

	MusicBrainzBaseURL   string `yaml:"musicbrainzBaseURL"`
	CoverArtBaseURL      string `yaml:"coverArtBaseURL"`
	DiscogsBaseURL       string `yaml:"discogsBaseURL"`
	DiscogsToken         string `yaml:"discogsToken"`
	UpstreamUserAgent    string `yaml:"upstreamUserAgent"`
	DailyChallengeTries  int    `yaml:"dailyChallengeTries"`
	InternalTokenSecret  string `yaml:"internalTokenSecret"`
	InternalTokenIssuers string `yaml:"internalTokenIssuers"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("TUNECANON_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("TUNECANON_QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueWorkers = n
		}
	}
	if v := os.Getenv("MUSICBRAINZ_BASE_URL"); v != "" {
		cfg.MusicBrainzBaseURL = v
	}
	if v := os.Getenv("COVERART_BASE_URL"); v != "" {
		cfg.CoverArtBaseURL = v
	}
	if v := os.Getenv("DISCOGS_BASE_URL"); v != "" {
		cfg.DiscogsBaseURL = v
	}
	if v := os.Getenv("DISCOGS_TOKEN"); v != "" {
		cfg.DiscogsToken = v
	}
	if v := os.Getenv("TUNECANON_DAILY_TRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DailyChallengeTries = n
		}
	}
	if v := os.Getenv("TUNECANON_INTERNAL_TOKEN_SECRET"); v != "" {
		cfg.InternalTokenSecret = v
	}
	if v := os.Getenv("TUNECANON_INTERNAL_TOKEN_ISSUERS"); v != "" {
		cfg.InternalTokenIssuers = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "enrichment"
	}
	if cfg.QueueWorkers <= 0 {
		cfg.QueueWorkers = 2
	}
	if cfg.DailyChallengeTries <= 0 {
		cfg.DailyChallengeTries = 6
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if len(cfg.InternalTokenSecret) < 32 {
		return errors.New("config: internalTokenSecret must be at least 32 bytes (set TUNECANON_INTERNAL_TOKEN_SECRET)")
	}
	if cfg.InternalTokenIssuers == "" {
		return errors.New("config: internalTokenIssuers is required (comma separated)")
	}
	return nil
}
