package cmd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/screener/internal/queue"
	"github.com/spigell/screener/internal/scheduler"
	"github.com/spigell/screener/internal/scoring"
	"github.com/spigell/screener/internal/screening"
	"github.com/spigell/screener/internal/server"
	"github.com/spigell/screener/internal/telemetry"
)

const (
	app = "screener"
)

type Config struct {
	DatabaseURL string                `mapstructure:"database-url"`
	Redis       RedisConfig           `mapstructure:"redis"`
	NATS        queue.Config          `mapstructure:"nats"`
	Schedule    ScheduleConfig        `mapstructure:"schedule"`
	Embedding   EmbeddingConfig       `mapstructure:"embedding"`
	AI          AIConfig              `mapstructure:"ai"`
	Scoring     ScoringConfig         `mapstructure:"scoring"`
	Screening   screening.PoolOptions `mapstructure:"screening"`
	Server      server.Config         `mapstructure:"server"`
	Tracing     telemetry.Config      `mapstructure:"tracing"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache-ttl"`
}

type ScheduleConfig struct {
	Sweep string `mapstructure:"sweep"`
}

type EmbeddingConfig struct {
	// Provider is "gemini" or "openai".
	Provider   string `mapstructure:"provider"`
	Dimensions int    `mapstructure:"dimensions"`
}

type AIConfig struct {
	FuzzySkills bool          `mapstructure:"fuzzy-skills"`
	Rationale   bool          `mapstructure:"rationale"`
	Gemini      *GeminiConfig `mapstructure:"gemini"`
	OpenAI      *OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKey         string        `mapstructure:"api-key"`
	APIKeyFile     string        `mapstructure:"api-key-file"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding-model"`
	MaxRetries     int           `mapstructure:"max-retries"`
	QuotaMaxWait   time.Duration `mapstructure:"quota-max-wait"`
	MaxLogLength   int           `mapstructure:"max-log-length"`
}

type OpenAIConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	BaseURL    string `mapstructure:"base-url"`
	Model      string `mapstructure:"model"`
	User       string `mapstructure:"user"`
}

type ScoringConfig struct {
	Weights            scoring.Weights   `mapstructure:"weights"`
	ShortlistThreshold float64           `mapstructure:"shortlist-threshold"`
	SkillAliases       map[string]string `mapstructure:"skill-aliases"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "screener scores job applications against their posting and shortlists the best candidates",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"database-url":           "DATABASE_URL",
		"redis.url":              "REDIS_URL",
		"nats.url":               "NATS_URL",
		"ai.gemini.api-key-file": "GEMINI_API_KEY_FILE",
		"ai.openai.api-key-file": "OPENAI_API_KEY_FILE",
		"tracing.endpoint":       "OTEL_EXPORTER_OTLP_ENDPOINT",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is screener.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	weights := scoring.DefaultWeights()
	viper.SetDefault("scoring.weights.similarity", weights.Similarity)
	viper.SetDefault("scoring.weights.skills", weights.Skills)
	viper.SetDefault("scoring.weights.experience", weights.Experience)
	viper.SetDefault("scoring.shortlist-threshold", scoring.DefaultShortlistThreshold)
	viper.SetDefault("embedding.provider", "gemini")
	viper.SetDefault("redis.cache-ttl", "720h")
	viper.SetDefault("schedule.sweep", scheduler.DefaultSpec)
	viper.SetDefault("ai.fuzzy-skills", true)
	viper.SetDefault("ai.rationale", true)
}

func initConfig() {
	// version does not need a config.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// Everything can come from the environment, so only an explicitly given
	// or broken config file is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errors.New("empty configuration")
	}
	return config, nil
}

// validate checks the settings every command needs.
func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database-url is required (set DATABASE_URL or database-url in the config)")
	}
	switch c.Embedding.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported embedding provider: %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}
