// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type VendorConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	ModelCreate    string  `yaml:"model_create"`
	ModelEdit      string  `yaml:"model_edit"`
	ModelProCreate string  `yaml:"model_pro_create"`
	ModelProEdit   string  `yaml:"model_pro_edit"`
	OutputFormat   string  `yaml:"output_format"`
	ImageSize      string  `yaml:"image_size"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
}

type FreepikConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type WebConfig struct {
	Port          int    `yaml:"port"`
	PublicBaseURL string `yaml:"public_base_url"`
	AdminToken    string `yaml:"admin_token"` // HMAC secret for admin JWTs
}

type WorkerConfig struct {
	Count        int           `yaml:"count"`
	PollFallback time.Duration `yaml:"poll_fallback"` // 0 disables the fallback poll
}

type StagingConfig struct {
	Dir          string `yaml:"dir"`
	ArtifactDir  string `yaml:"artifact_dir"`
	MaxAssetMB   int    `yaml:"max_asset_mb"`
	SubmitLimit  int    `yaml:"submit_limit"`  // per-user submissions per window
	SubmitWindow string `yaml:"submit_window"` // e.g. "1m"
}

type ModerationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OpenAIKey string `yaml:"openai_key"`
}

type LedgerConfig struct {
	RefundOnDownloadFailure bool `yaml:"refund_on_download_failure"`
}

type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Vendor     VendorConfig     `yaml:"vendor"`
	Freepik    FreepikConfig    `yaml:"freepik"`
	Web        WebConfig        `yaml:"web"`
	Worker     WorkerConfig     `yaml:"worker"`
	Staging    StagingConfig    `yaml:"staging"`
	Moderation ModerationConfig `yaml:"moderation"`
	Ledger     LedgerConfig     `yaml:"ledger"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Vendor.BaseURL == "" {
		cfg.Vendor.BaseURL = "https://api.kie.ai/api/v1"
	}
	if cfg.Vendor.ModelCreate == "" {
		cfg.Vendor.ModelCreate = "google/nano-banana"
	}
	if cfg.Vendor.ModelEdit == "" {
		cfg.Vendor.ModelEdit = "google/nano-banana-edit"
	}
	if cfg.Vendor.ModelProCreate == "" {
		cfg.Vendor.ModelProCreate = cfg.Vendor.ModelCreate + "-pro"
	}
	if cfg.Vendor.ModelProEdit == "" {
		cfg.Vendor.ModelProEdit = cfg.Vendor.ModelEdit + "-pro"
	}
	if cfg.Vendor.OutputFormat == "" {
		cfg.Vendor.OutputFormat = "png"
	}
	if cfg.Vendor.ImageSize == "" {
		cfg.Vendor.ImageSize = "auto"
	}
	if cfg.Vendor.RatePerSecond <= 0 {
		cfg.Vendor.RatePerSecond = 1.5
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = 4
	}
	if cfg.Staging.Dir == "" {
		cfg.Staging.Dir = "/app/temp_inputs"
	}
	if cfg.Staging.ArtifactDir == "" {
		cfg.Staging.ArtifactDir = "/tmp/nanobanana"
	}
	if cfg.Staging.MaxAssetMB <= 0 {
		cfg.Staging.MaxAssetMB = 20
	}
	if cfg.Staging.SubmitLimit <= 0 {
		cfg.Staging.SubmitLimit = 10
	}
	if cfg.Staging.SubmitWindow == "" {
		cfg.Staging.SubmitWindow = "1m"
	}
	if _, err := time.ParseDuration(cfg.Staging.SubmitWindow); err != nil {
		return nil, fmt.Errorf("staging.submit_window: %w", err)
	}
	cfg.Web.PublicBaseURL = strings.TrimRight(cfg.Web.PublicBaseURL, "/")

	// Minimal validation
	if cfg.Bot.Token == "" && !dev {
		return nil, errors.New("bot.token is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Vendor.APIKey == "" && cfg.Freepik.APIKey == "" {
		return nil, errors.New("vendor.api_key or freepik.api_key is required")
	}
	if cfg.Web.PublicBaseURL == "" {
		return nil, errors.New("web.public_base_url is required")
	}
	if cfg.Moderation.Enabled && cfg.Moderation.OpenAIKey == "" {
		return nil, errors.New("moderation.openai_key is required when moderation.enabled")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// SubmitWindow returns the parsed per-user submission window.
func (c *Config) SubmitWindow() time.Duration {
	d, _ := time.ParseDuration(c.Staging.SubmitWindow)
	return d
}
