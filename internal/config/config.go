package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // display_timezone must resolve on minimal images

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Feature API.
	FeatureAPIURL       string
	FeatureAPIKey       string
	FeatureAPIDateParam string
	FeatureAPITimeout   time.Duration
	PageSize            int
	MaxPages            int
	QueryByDate         bool
	DefaultDate         string

	// Page caching. Redis replaces the in-process LRU when RedisAddr is set.
	PageCacheSize int
	PageCacheTTL  time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Command and summary sink.
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaCommandTopic string
	KafkaSummaryTopic string
	// PublishTimeout bounds each map command and summary publish.
	PublishTimeout time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	ConfigFile string
	Display    Display
}

// Display is the presentation profile, optionally overridden by the YAML
// file named in CONFIG_FILE.
type Display struct {
	DetailedCountry  string  `yaml:"detailed_country"`
	UnspecifiedLabel string  `yaml:"unspecified_label"`
	Timezone         string  `yaml:"display_timezone"`
	FitPadding       float64 `yaml:"fit_padding"`
	FitMaxZoom       float64 `yaml:"fit_max_zoom"`
	SinglePointZoom  float64 `yaml:"single_point_zoom"`

	// Location is resolved from Timezone during Load.
	Location *time.Location `yaml:"-"`
}

// DefaultDisplay returns the built-in display profile.
func DefaultDisplay() Display {
	return Display{
		DetailedCountry:  "Thailand",
		UnspecifiedLabel: "unspecified",
		Timezone:         "Asia/Bangkok",
		FitPadding:       40,
		FitMaxZoom:       8,
		SinglePointZoom:  6,
	}
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	apiTimeout, err := parseDuration("FEATURE_API_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	publishTimeout, err := parseDuration("PUBLISH_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("PAGE_CACHE_TTL", "5m")
	if err != nil {
		return nil, err
	}
	pageSize, err := parsePositiveInt("PAGE_SIZE", 10000)
	if err != nil {
		return nil, err
	}
	maxPages, err := parsePositiveInt("MAX_PAGES", 1000)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("PAGE_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	queryByDate, err := parseBool("QUERY_BY_DATE", true)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", true)
	if err != nil {
		return nil, err
	}

	redisDB := 0
	if s := os.Getenv("REDIS_DB"); s != "" {
		redisDB, err = strconv.Atoi(s)
		if err != nil || redisDB < 0 {
			return nil, errors.New("invalid REDIS_DB")
		}
	}

	cfg := &Config{
		FeatureAPIURL:       os.Getenv("FEATURE_API_URL"),
		FeatureAPIKey:       os.Getenv("FEATURE_API_KEY"),
		FeatureAPIDateParam: sharedcfg.EnvOrDefault("FEATURE_API_DATE_PARAM", "th_date"),
		FeatureAPITimeout:   apiTimeout,
		PageSize:            pageSize,
		MaxPages:            maxPages,
		QueryByDate:         queryByDate,
		DefaultDate:         sharedcfg.EnvOrDefault("DEFAULT_DATE", "2024-01-07"),

		PageCacheSize: cacheSize,
		PageCacheTTL:  cacheTTL,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		KafkaEnabled:      kafkaEnabled,
		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaCommandTopic: sharedcfg.EnvOrDefault("KAFKA_COMMAND_TOPIC", "hotspot-map-commands"),
		KafkaSummaryTopic: sharedcfg.EnvOrDefault("KAFKA_SUMMARY_TOPIC", "hotspot-summaries"),
		PublishTimeout:    publishTimeout,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ConfigFile: os.Getenv("CONFIG_FILE"),
		Display:    DefaultDisplay(),
	}

	if cfg.FeatureAPIURL == "" {
		return nil, errors.New("FEATURE_API_URL is required")
	}
	if cfg.DefaultDate != "" {
		if _, err := time.Parse(time.DateOnly, cfg.DefaultDate); err != nil {
			return nil, errors.New("invalid DEFAULT_DATE: want YYYY-MM-DD")
		}
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaCommandTopic == "" {
			return nil, errors.New("KAFKA_COMMAND_TOPIC is required")
		}
		if cfg.KafkaSummaryTopic == "" {
			return nil, errors.New("KAFKA_SUMMARY_TOPIC is required")
		}
	}

	if cfg.ConfigFile != "" {
		display, err := LoadDisplay(cfg.ConfigFile, cfg.Display)
		if err != nil {
			return nil, err
		}
		cfg.Display = display
	}

	loc, err := time.LoadLocation(cfg.Display.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid display_timezone %q: %w", cfg.Display.Timezone, err)
	}
	cfg.Display.Location = loc

	return cfg, nil
}

// LoadDisplay reads a YAML display profile from path. Keys absent from the
// file keep their value from base.
func LoadDisplay(path string, base Display) (Display, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Display{}, fmt.Errorf("config file not found: %s", path)
		}
		return Display{}, fmt.Errorf("reading config file: %w", err)
	}

	display := base
	if err := yaml.Unmarshal(data, &display); err != nil {
		return Display{}, fmt.Errorf("parsing config YAML: %w", err)
	}

	if display.FitPadding < 0 {
		return Display{}, errors.New("fit_padding must not be negative")
	}
	if display.FitMaxZoom <= 0 {
		return Display{}, errors.New("fit_max_zoom must be positive")
	}
	if display.SinglePointZoom <= 0 {
		return Display{}, errors.New("single_point_zoom must be positive")
	}
	return display, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}
