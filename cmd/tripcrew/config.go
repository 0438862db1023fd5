package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tripcrew/tripcrew/runtime/planner/interrupt"
	"github.com/tripcrew/tripcrew/runtime/planner/orchestrator"
)

type (
	// Config is the effective configuration of the binary.
	Config struct {
		HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
		Debug   bool          `mapstructure:"debug" yaml:"debug"`
		Session SessionConfig `mapstructure:"session" yaml:"session"`
		Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
		Model   ModelConfig   `mapstructure:"model" yaml:"model"`
		Search  SearchConfig  `mapstructure:"search" yaml:"search"`
		Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
		Mongo   MongoConfig   `mapstructure:"mongo" yaml:"mongo"`
	}

	// HTTPConfig configures the chatbot HTTP server.
	HTTPConfig struct {
		Addr string `mapstructure:"addr" yaml:"addr"`
	}

	// SessionConfig bounds session lifetimes.
	SessionConfig struct {
		AnswerTimeout    time.Duration `mapstructure:"answer_timeout" yaml:"answer_timeout"`
		TTL              time.Duration `mapstructure:"ttl" yaml:"ttl"`
		ReapInterval     time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
		RecoverByKeyword bool          `mapstructure:"recover_by_keyword" yaml:"recover_by_keyword"`
	}

	// PlannerConfig tunes the research pipeline.
	PlannerConfig struct {
		DefaultYear int `mapstructure:"default_year" yaml:"default_year"`
		SearchLimit int `mapstructure:"search_limit" yaml:"search_limit"`
	}

	// ModelConfig selects and configures the LLM provider.
	ModelConfig struct {
		// Provider is one of anthropic, openai or bedrock.
		Provider    string  `mapstructure:"provider" yaml:"provider"`
		Name        string  `mapstructure:"name" yaml:"name"`
		APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
		BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
		Region      string  `mapstructure:"region" yaml:"region"`
		Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
		MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
		// TPM is the initial tokens-per-minute budget shared by all stages.
		TPM float64 `mapstructure:"tpm" yaml:"tpm"`
	}

	// SearchConfig configures web search.
	SearchConfig struct {
		APIKey        string `mapstructure:"api_key" yaml:"api_key"`
		RatePerMinute int    `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	}

	// RedisConfig enables the shared FX cache, rate budget and status
	// streams when URL is set.
	RedisConfig struct {
		URL      string `mapstructure:"url" yaml:"url"`
		Password string `mapstructure:"password" yaml:"password"`
	}

	// MongoConfig enables the turn archive when URI is set.
	MongoConfig struct {
		URI      string `mapstructure:"uri" yaml:"uri"`
		Database string `mapstructure:"database" yaml:"database"`
	}

	// ValidationError describes one invalid setting.
	ValidationError struct {
		Field   string
		Value   any
		Message string
	}

	// ValidationErrors collects every invalid setting.
	ValidationErrors []ValidationError
)

// Providers lists the supported model providers.
var Providers = []string{"anthropic", "openai", "bedrock"}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8000"},
		Session: SessionConfig{
			AnswerTimeout:    interrupt.DefaultTimeout,
			TTL:              24 * time.Hour,
			ReapInterval:     orchestrator.DefaultReapInterval,
			RecoverByKeyword: true,
		},
		Planner: PlannerConfig{DefaultYear: orchestrator.DefaultYear, SearchLimit: 5},
		Model: ModelConfig{
			Provider:    "anthropic",
			Name:        "claude-sonnet-4-5",
			Region:      "us-east-1",
			Temperature: 0.2,
			MaxTokens:   4096,
			TPM:         60000,
		},
		Search: SearchConfig{RatePerMinute: 60},
		Mongo:  MongoConfig{Database: "tripcrew"},
	}
}

// SetDefaults registers the defaults with viper so every key is known even
// without a config file.
func SetDefaults() {
	d := Default()

	viper.SetDefault("http.addr", d.HTTP.Addr)
	viper.SetDefault("debug", d.Debug)

	viper.SetDefault("session.answer_timeout", d.Session.AnswerTimeout)
	viper.SetDefault("session.ttl", d.Session.TTL)
	viper.SetDefault("session.reap_interval", d.Session.ReapInterval)
	viper.SetDefault("session.recover_by_keyword", d.Session.RecoverByKeyword)

	viper.SetDefault("planner.default_year", d.Planner.DefaultYear)
	viper.SetDefault("planner.search_limit", d.Planner.SearchLimit)

	viper.SetDefault("model.provider", d.Model.Provider)
	viper.SetDefault("model.name", d.Model.Name)
	viper.SetDefault("model.api_key", d.Model.APIKey)
	viper.SetDefault("model.base_url", d.Model.BaseURL)
	viper.SetDefault("model.region", d.Model.Region)
	viper.SetDefault("model.temperature", d.Model.Temperature)
	viper.SetDefault("model.max_tokens", d.Model.MaxTokens)
	viper.SetDefault("model.tpm", d.Model.TPM)

	viper.SetDefault("search.api_key", d.Search.APIKey)
	viper.SetDefault("search.rate_per_minute", d.Search.RatePerMinute)

	viper.SetDefault("redis.url", d.Redis.URL)
	viper.SetDefault("redis.password", d.Redis.Password)

	viper.SetDefault("mongo.uri", d.Mongo.URI)
	viper.SetDefault("mongo.database", d.Mongo.Database)
}

// Load reads the configuration from viper and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Validate returns every invalid setting.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.HTTP.Addr == "" {
		add("http.addr", c.HTTP.Addr, "must not be empty")
	}
	if c.Session.AnswerTimeout <= 0 {
		add("session.answer_timeout", c.Session.AnswerTimeout, "must be positive")
	}
	if c.Session.TTL < 0 {
		add("session.ttl", c.Session.TTL, "must not be negative")
	}
	if c.Session.TTL > 0 && c.Session.ReapInterval <= 0 {
		add("session.reap_interval", c.Session.ReapInterval, "must be positive when session.ttl is set")
	}
	if c.Planner.DefaultYear < 1970 || c.Planner.DefaultYear > 9999 {
		add("planner.default_year", c.Planner.DefaultYear, "must be a four digit year")
	}
	if c.Planner.SearchLimit < 0 {
		add("planner.search_limit", c.Planner.SearchLimit, "must not be negative")
	}

	if !validProvider(c.Model.Provider) {
		add("model.provider", c.Model.Provider, "must be one of "+strings.Join(Providers, ", "))
	}
	if c.Model.Name == "" {
		add("model.name", c.Model.Name, "must not be empty")
	}
	if c.Model.Provider == "bedrock" && c.Model.Region == "" {
		add("model.region", c.Model.Region, "is required for bedrock")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		add("model.temperature", c.Model.Temperature, "must be between 0 and 2")
	}
	if c.Model.MaxTokens <= 0 {
		add("model.max_tokens", c.Model.MaxTokens, "must be positive")
	}
	if c.Model.TPM <= 0 {
		add("model.tpm", c.Model.TPM, "must be positive")
	}

	if c.Search.RatePerMinute <= 0 {
		add("search.rate_per_minute", c.Search.RatePerMinute, "must be positive")
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		add("mongo.database", c.Mongo.Database, "is required when mongo.uri is set")
	}
	return errs
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Model.APIKey = mask(c.Model.APIKey)
	c.Search.APIKey = mask(c.Search.APIKey)
	c.Redis.Password = mask(c.Redis.Password)
	return c
}

// MarshalYAML renders durations in their string form.
func (c SessionConfig) MarshalYAML() (any, error) {
	return struct {
		AnswerTimeout    string `yaml:"answer_timeout"`
		TTL              string `yaml:"ttl"`
		ReapInterval     string `yaml:"reap_interval"`
		RecoverByKeyword bool   `yaml:"recover_by_keyword"`
	}{c.AnswerTimeout.String(), c.TTL.String(), c.ReapInterval.String(), c.RecoverByKeyword}, nil
}

func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

func validProvider(p string) bool {
	for _, v := range Providers {
		if p == v {
			return true
		}
	}
	return false
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}
