// Package config loads and validates the closed configuration record for
// the pipeline. Values come from a YAML config file, environment variables
// and an optional .env file, in the usual viper precedence order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"newsdesk/internal/core"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App      App      `mapstructure:"app"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	AI       AI       `mapstructure:"ai"`
	Scraper  Scraper  `mapstructure:"scraper"`
	Store    Store    `mapstructure:"store"`
	HTTP     HTTP     `mapstructure:"http"`
	Feeds    []Feed   `mapstructure:"feeds"`
}

// App holds general application configuration.
type App struct {
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Pipeline holds the per-cycle policy knobs.
type Pipeline struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`        // Sleep between cycles in serve mode
	RetentionWindow     time.Duration `mapstructure:"retention_window"`     // Max age of an admissible feed entry
	ClusteringWindow    time.Duration `mapstructure:"clustering_window"`    // Max gap between entry and cluster last-seen
	ImportanceThreshold int           `mapstructure:"importance_threshold"` // Publication floor, 0-1000
	CycleBudget         time.Duration `mapstructure:"cycle_budget"`         // Soft wall-clock budget per cycle
	MaxSynthesisSources int           `mapstructure:"max_synthesis_sources"`
	FeedConcurrency     int           `mapstructure:"feed_concurrency"`
	FetchConcurrency    int           `mapstructure:"fetch_concurrency"`
	LLMConcurrency      int           `mapstructure:"llm_concurrency"`
}

// AI holds LLM provider configuration.
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// GeminiConfig holds Google Gemini configuration.
type GeminiConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OpenAIConfig holds OpenAI configuration.
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Scraper holds scraping-gateway configuration.
type Scraper struct {
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Store holds durable-store configuration.
type Store struct {
	Directory        string        `mapstructure:"directory"`
	ProcessedHorizon time.Duration `mapstructure:"processed_horizon"` // How long processed-URL marks are kept
	BodyCacheTTL     time.Duration `mapstructure:"body_cache_ttl"`
}

// HTTP holds the outbound client policy.
type HTTP struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"` // Consecutive failures before the breaker opens
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
	GlobalConcurrency int           `mapstructure:"global_concurrency"`
	FeedTimeout       time.Duration `mapstructure:"feed_timeout"`
	ImageTimeout      time.Duration `mapstructure:"image_timeout"`
}

// Feed is one configured feed descriptor.
type Feed struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
	Tier string `mapstructure:"tier"`
}

// Sources converts the configured feed descriptors into core records.
func (c *Config) Sources() []core.FeedSource {
	sources := make([]core.FeedSource, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		tier := core.Tier(f.Tier)
		switch tier {
		case core.TierPremium, core.TierMajor, core.TierStandard, core.TierRegional:
		default:
			tier = core.TierStandard
		}
		sources = append(sources, core.FeedSource{URL: f.URL, Name: f.Name, Tier: tier})
	}
	return sources
}

// Load loads the configuration from the given file (or the default search
// path when empty), applies defaults and environment bindings, and
// validates the result. Missing required keys fail immediately.
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName(".newsdesk")
		v.SetConfigType("yaml")
	}

	setDefaults(v)
	bindEnvironmentVariables(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.data_dir", ".newsdesk")

	v.SetDefault("pipeline.poll_interval", "5m")
	v.SetDefault("pipeline.retention_window", "24h")
	v.SetDefault("pipeline.clustering_window", "24h")
	v.SetDefault("pipeline.importance_threshold", 700)
	v.SetDefault("pipeline.cycle_budget", "30m")
	v.SetDefault("pipeline.max_synthesis_sources", 10)
	v.SetDefault("pipeline.feed_concurrency", 16)
	v.SetDefault("pipeline.fetch_concurrency", 8)
	v.SetDefault("pipeline.llm_concurrency", 8)

	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.timeout", "30s")
	v.SetDefault("ai.openai.model", "gpt-4o")
	v.SetDefault("ai.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.openai.timeout", "60s")

	v.SetDefault("scraper.endpoint", "https://api.scraperapi.com/")
	v.SetDefault("scraper.timeout", "30s")

	v.SetDefault("store.directory", ".newsdesk")
	v.SetDefault("store.processed_horizon", "720h")
	v.SetDefault("store.body_cache_ttl", "48h")

	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_base", "1s")
	v.SetDefault("http.backoff_cap", "30s")
	v.SetDefault("http.breaker_threshold", 5)
	v.SetDefault("http.breaker_cooldown", "60s")
	v.SetDefault("http.global_concurrency", 64)
	v.SetDefault("http.feed_timeout", "10s")
	v.SetDefault("http.image_timeout", "5s")
}

// bindEnvironmentVariables sets up flexible environment variable binding.
func bindEnvironmentVariables(v *viper.Viper) {
	bindEnvKeys(v, "ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})
	bindEnvKeys(v, "ai.openai.api_key", []string{
		"OPENAI_API_KEY",
	})
	bindEnvKeys(v, "scraper.api_key", []string{
		"SCRAPER_API_KEY",
		"SCRAPINGBEE_API_KEY",
	})
}

// bindEnvKeys binds the first set environment variable to a config key.
func bindEnvKeys(v *viper.Viper, configKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			v.Set(configKey, value)
			return
		}
	}
}

// validateConfig rejects configurations the pipeline cannot start with.
func validateConfig(c *Config) error {
	var missing []string
	if c.AI.Gemini.APIKey == "" {
		missing = append(missing, "ai.gemini.api_key (GEMINI_API_KEY)")
	}
	if c.AI.OpenAI.APIKey == "" {
		missing = append(missing, "ai.openai.api_key (OPENAI_API_KEY)")
	}
	if c.Scraper.APIKey == "" {
		missing = append(missing, "scraper.api_key (SCRAPER_API_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Pipeline.ImportanceThreshold < 0 || c.Pipeline.ImportanceThreshold > 1000 {
		return fmt.Errorf("pipeline.importance_threshold must be in [0,1000], got %d", c.Pipeline.ImportanceThreshold)
	}
	if c.Pipeline.RetentionWindow <= 0 {
		return fmt.Errorf("pipeline.retention_window must be positive")
	}
	if c.Pipeline.ClusteringWindow <= 0 {
		return fmt.Errorf("pipeline.clustering_window must be positive")
	}
	if len(c.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	for i, f := range c.Feeds {
		if f.URL == "" || f.Name == "" {
			return fmt.Errorf("feed %d is missing url or name", i)
		}
	}
	return nil
}
