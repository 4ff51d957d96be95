// Package config loads the scrollfeed configuration from a file, SCROLLFEED_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SCROLLFEED_FEED_URL.
const EnvPrefix = "SCROLLFEED"

// Config is the scrollfeed configuration.
type Config struct {
	Feed      *Feed
	Viewport  *Viewport
	Transport *Transport
	Redis     *Redis
	Logger    *Logger
	Metrics   *Metrics
}

// Feed configures the endpoint and the engine.
type Feed struct {
	URL               string
	Method            string
	DataType          string
	ContentType       string
	PageSize          int
	DefaultPage       int
	CountKey          string
	ResultKey         string
	IDField           string
	Template          string
	LoadingTemplate   string
	NoDataTemplate    string
	CompletedTemplate string
	Params            map[string]string
}

// Viewport configures the simulated terminal viewport.
type Viewport struct {
	Height    float64
	RowHeight float64
	Step      float64
	MaxSteps  int
}

// Transport configures the HTTP requester.
type Transport struct {
	Timeout        time.Duration
	UserAgent      string
	Headers        map[string]string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CacheTTL       time.Duration
}

// Redis configures the optional page cache and rate limit store. An empty
// Addr disables both.
type Redis struct {
	Addr      string
	Password  string
	DB        int
	Cache     bool
	RateLimit bool
}

// Logger configures logging.
type Logger struct {
	Level  string
	Pretty bool
}

// Metrics configures the Prometheus listener. An empty Addr disables it.
type Metrics struct {
	Addr string
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"url":          "feed.url",
	"method":       "feed.method",
	"data-type":    "feed.data_type",
	"page-size":    "feed.page_size",
	"template":     "feed.template",
	"height":       "viewport.height",
	"row-height":   "viewport.row_height",
	"step":         "viewport.step",
	"max-steps":    "viewport.max_steps",
	"timeout":      "transport.timeout",
	"max-attempts": "transport.max_attempts",
	"redis":        "redis.addr",
	"log-level":    "logger.level",
	"pretty":       "logger.pretty",
	"metrics-addr": "metrics.addr",
}

// Load reads the configuration. configPath may be empty; flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		Feed:      getFeedConfig(v),
		Viewport:  getViewportConfig(v),
		Transport: getTransportConfig(v),
		Redis:     getRedisConfig(v),
		Logger:    getLoggerConfig(v),
		Metrics:   &Metrics{Addr: v.GetString("metrics.addr")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values the engine and transport cannot default.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.page_size must be > 0 (got %d)", c.Feed.PageSize)
	}
	if c.Viewport.Height <= 0 {
		return fmt.Errorf("viewport.height must be > 0 (got %v)", c.Viewport.Height)
	}
	if c.Viewport.Step <= 0 {
		return fmt.Errorf("viewport.step must be > 0 (got %v)", c.Viewport.Step)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.method", "GET")
	v.SetDefault("feed.data_type", "json")
	v.SetDefault("feed.page_size", 10)
	v.SetDefault("feed.count_key", "count")
	v.SetDefault("feed.result_key", "result")
	v.SetDefault("feed.id_field", "id")
	v.SetDefault("feed.template", "{{.id}}")
	v.SetDefault("feed.loading_template", "loading...")
	v.SetDefault("feed.no_data_template", "no data")
	v.SetDefault("feed.completed_template", "no more items")

	v.SetDefault("viewport.height", 400)
	v.SetDefault("viewport.row_height", 20)
	v.SetDefault("viewport.step", 200)
	v.SetDefault("viewport.max_steps", 1000)

	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.user_agent", "scrollfeed/1.0")
	v.SetDefault("transport.max_attempts", 1)
	v.SetDefault("transport.initial_backoff", time.Second)
	v.SetDefault("transport.max_backoff", 30*time.Second)
	v.SetDefault("transport.cache_ttl", 5*time.Minute)

	v.SetDefault("redis.cache", true)
	v.SetDefault("redis.rate_limit", true)

	v.SetDefault("logger.level", "info")
}

func getFeedConfig(v *viper.Viper) *Feed {
	return &Feed{
		URL:               v.GetString("feed.url"),
		Method:            strings.ToUpper(v.GetString("feed.method")),
		DataType:          strings.ToLower(v.GetString("feed.data_type")),
		ContentType:       v.GetString("feed.content_type"),
		PageSize:          v.GetInt("feed.page_size"),
		DefaultPage:       v.GetInt("feed.default_page"),
		CountKey:          v.GetString("feed.count_key"),
		ResultKey:         v.GetString("feed.result_key"),
		IDField:           v.GetString("feed.id_field"),
		Template:          v.GetString("feed.template"),
		LoadingTemplate:   v.GetString("feed.loading_template"),
		NoDataTemplate:    v.GetString("feed.no_data_template"),
		CompletedTemplate: v.GetString("feed.completed_template"),
		Params:            v.GetStringMapString("feed.params"),
	}
}

func getViewportConfig(v *viper.Viper) *Viewport {
	return &Viewport{
		Height:    v.GetFloat64("viewport.height"),
		RowHeight: v.GetFloat64("viewport.row_height"),
		Step:      v.GetFloat64("viewport.step"),
		MaxSteps:  v.GetInt("viewport.max_steps"),
	}
}

func getTransportConfig(v *viper.Viper) *Transport {
	return &Transport{
		Timeout:        v.GetDuration("transport.timeout"),
		UserAgent:      v.GetString("transport.user_agent"),
		Headers:        v.GetStringMapString("transport.headers"),
		MaxAttempts:    v.GetInt("transport.max_attempts"),
		InitialBackoff: v.GetDuration("transport.initial_backoff"),
		MaxBackoff:     v.GetDuration("transport.max_backoff"),
		CacheTTL:       v.GetDuration("transport.cache_ttl"),
	}
}

func getRedisConfig(v *viper.Viper) *Redis {
	return &Redis{
		Addr:      v.GetString("redis.addr"),
		Password:  v.GetString("redis.password"),
		DB:        v.GetInt("redis.db"),
		Cache:     v.GetBool("redis.cache"),
		RateLimit: v.GetBool("redis.rate_limit"),
	}
}

func getLoggerConfig(v *viper.Viper) *Logger {
	return &Logger{
		Level:  v.GetString("logger.level"),
		Pretty: v.GetBool("logger.pretty"),
	}
}
