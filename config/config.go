package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Predflow AppConfig      `yaml:"predflow"`
	Channels ChannelsConfig `yaml:"channels"`
	Venues   VenuesConfig   `yaml:"venues"`
	Market   MarketConfig   `yaml:"market"`
	Trades   TradeConfig    `yaml:"trades"`
	Detector DetectorConfig `yaml:"detector"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Sink     SinkConfig     `yaml:"sink"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
	Report   ReportConfig   `yaml:"report"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	TradeBuffer   int `yaml:"trade_buffer"`
	ListingBuffer int `yaml:"listing_buffer"`
	RecordBuffer  int `yaml:"record_buffer"`
}

type VenuesConfig struct {
	Polymarket VenueConfig `yaml:"polymarket"`
	Kalshi     VenueConfig `yaml:"kalshi"`
}

// StreamsConfig selects which ingestion modes run for a venue. Each enabled
// mode runs in its own goroutine.
type StreamsConfig struct {
	BookPush  bool `yaml:"book_push"`
	TradePush bool `yaml:"trade_push"`
	RestPoll  bool `yaml:"rest_poll"`
}

func (s StreamsConfig) Any() bool {
	return s.BookPush || s.TradePush || s.RestPoll
}

type VenueConfig struct {
	Enabled           bool              `yaml:"enabled"`
	RestURL           string            `yaml:"rest_url"`
	TradeWSURL        string            `yaml:"trade_ws_url"`
	BookWSURL         string            `yaml:"book_ws_url"`
	Streams           StreamsConfig     `yaml:"streams"`
	PollInterval      time.Duration     `yaml:"poll_interval"`
	PollLimit         int               `yaml:"poll_limit"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	Burst             int               `yaml:"burst"`
	ReconnectMin      time.Duration     `yaml:"reconnect_min"`
	ReconnectMax      time.Duration     `yaml:"reconnect_max"`
	Filters           FilterConfig      `yaml:"filters"`
	Params            map[string]string `yaml:"params"`
	APIKeyID          string            `yaml:"api_key_id"`
	APIPrivateKey     string            `yaml:"api_private_key"`
}

// FilterConfig holds the discovery filter buckets for one venue. Each bucket
// is tri-state: unset means no constraint, "off" disables it explicitly,
// a list makes it an active constraint.
type FilterConfig struct {
	Keywords   Bucket `yaml:"keywords"`
	Categories Bucket `yaml:"categories"`
	Companies  Bucket `yaml:"companies"`
	Tags       Bucket `yaml:"tags"`
	Exclude    Bucket `yaml:"exclude"`
}

type MarketConfig struct {
	NicheKeywords     Bucket  `yaml:"niche_keywords"`
	StockKeywords     Bucket  `yaml:"stock_keywords"`
	ExcludeKeywords   Bucket  `yaml:"exclude_keywords"`
	MaxYearsAhead     int     `yaml:"max_years_ahead"`
	NicheMaxVolumeUSD float64 `yaml:"niche_max_volume_usd"`
}

type TradeConfig struct {
	USDThreshold   float64 `yaml:"usd_threshold"`
	ShareThreshold float64 `yaml:"share_threshold"`
}

type ClusterConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"`
}

// DetectorConfig tunes the anomaly detectors running over the live trade
// stream. Windows are rolling and keyed per market, per wallet, or
// venue-wide depending on the detector.
type DetectorConfig struct {
	Enabled bool `yaml:"enabled"`

	ZScoreWindow     time.Duration `yaml:"zscore_window"`
	ZScoreThreshold  float64       `yaml:"zscore_threshold"`
	ZScoreMinSamples int           `yaml:"zscore_min_samples"`
	ZScoreCooldown   time.Duration `yaml:"zscore_cooldown"`

	SweepWindow    time.Duration `yaml:"sweep_window"`
	SweepMinTrades int           `yaml:"sweep_min_trades"`
	SweepCooldown  time.Duration `yaml:"sweep_cooldown"`

	WalletWindow       time.Duration `yaml:"wallet_window"`
	WalletThresholdUSD float64       `yaml:"wallet_threshold_usd"`

	YesWindow       time.Duration `yaml:"yes_window"`
	YesThresholdUSD float64       `yaml:"yes_threshold_usd"`
}

type SinkConfig struct {
	DatabaseURL   string        `yaml:"database_url"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

type ReportConfig struct {
	Interval   time.Duration `yaml:"interval"`
	CloudWatch bool          `yaml:"cloudwatch"`
}

// Default classification keyword sets, used when the corresponding bucket is
// neither populated nor disabled.
var (
	defaultStockKeywords = []string{
		"earnings", "eps", "revenue", "guidance", "ipo", "stock",
		"shares", "share price", "dividend", "buyback", "split",
		"nasdaq", "s&p", "spx", "dow", "dow jones",
	}
	defaultNicheKeywords = []string{
		"arrest", "indictment", "raid", "investigation", "whistleblower",
		"leak", "scandal", "coup", "assassination", "extradition",
		"sanction", "venezuela", "maduro", "bankruptcy", "default",
		"delist", "fraud", "subpoena", "sec", "doj",
	}
	defaultExcludeKeywords = []string{
		"bitcoin", "btc", "ethereum", "eth", "solana", "crypto",
		"super bowl", "nfl", "nba", "mlb", "nhl", "world cup",
		"champion", "playoff", "season", "ufc", "f1", "formula 1",
		"olympics", "soccer",
	}
)

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, "config.yaml", map[string]string{
		environmentProduction: "config.production.yaml",
		environmentStaging:    "config.staging.yaml",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)
	applyClassifierDefaults(config)

	config.Archive.S3.Bucket = strings.TrimSpace(config.Archive.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{
			TradeBuffer:   1000,
			ListingBuffer: 100,
			RecordBuffer:  1000,
		},
		Venues: VenuesConfig{
			Polymarket: defaultVenue(),
			Kalshi:     defaultVenue(),
		},
		Market: MarketConfig{
			MaxYearsAhead: 1,
		},
		Trades: TradeConfig{
			USDThreshold:   5000,
			ShareThreshold: 0.05,
		},
		Detector: DetectorConfig{
			Enabled:            true,
			ZScoreWindow:       time.Hour,
			ZScoreThreshold:    3.0,
			ZScoreMinSamples:   30,
			ZScoreCooldown:     30 * time.Second,
			SweepWindow:        50 * time.Millisecond,
			SweepMinTrades:     5,
			SweepCooldown:      time.Second,
			WalletWindow:       6 * time.Hour,
			WalletThresholdUSD: 10000,
			YesWindow:          time.Hour,
			YesThresholdUSD:    50000,
		},
		Cluster: ClusterConfig{
			Enabled:   true,
			Threshold: 85,
		},
		Sink: SinkConfig{
			BatchSize:     100,
			FlushInterval: 2 * time.Second,
			RetryAttempts: 5,
			RetryDelay:    time.Second,
		},
		Archive: ArchiveConfig{
			BatchSize:     5000,
			FlushInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Report: ReportConfig{
			Interval: time.Minute,
		},
	}
}

func defaultVenue() VenueConfig {
	return VenueConfig{
		PollInterval:      5 * time.Second,
		PollLimit:         100,
		RequestsPerSecond: 5,
		Burst:             10,
		ReconnectMin:      time.Second,
		ReconnectMax:      60 * time.Second,
	}
}

// applyEnvOverrides layers process environment values over the file
// configuration. Environment always wins.
func applyEnvOverrides(cfg *Config) {
	overrideBucket := func(b *Bucket, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*b = parseBucketEnv(v)
		}
	}
	overrideInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	overrideFloat := func(dst *float64, key string) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}
	overrideBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}
	overrideString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	overrideBucket(&cfg.Market.NicheKeywords, "MARKET_NICHE_KEYWORDS")
	overrideBucket(&cfg.Market.StockKeywords, "MARKET_STOCK_KEYWORDS")
	overrideBucket(&cfg.Market.ExcludeKeywords, "MARKET_EXCLUDE_KEYWORDS")
	overrideInt(&cfg.Market.MaxYearsAhead, "MARKET_MAX_YEARS_AHEAD")
	overrideFloat(&cfg.Market.NicheMaxVolumeUSD, "MARKET_NICHE_MAX_VOLUME_USD")

	overrideFloat(&cfg.Trades.USDThreshold, "TRADE_USD_THRESHOLD")
	overrideFloat(&cfg.Trades.ShareThreshold, "TRADE_SHARE_THRESHOLD")

	overrideBool(&cfg.Cluster.Enabled, "CLUSTER_ENABLED")
	overrideInt(&cfg.Cluster.Threshold, "CLUSTER_SIMILARITY_THRESHOLD")

	pm := &cfg.Venues.Polymarket
	overrideBucket(&pm.Filters.Keywords, "POLYMARKET_EVENT_KEYWORDS")
	overrideBucket(&pm.Filters.Categories, "POLYMARKET_EVENT_CATEGORIES")
	overrideBucket(&pm.Filters.Companies, "POLYMARKET_EVENT_COMPANIES")
	overrideBucket(&pm.Filters.Tags, "POLYMARKET_EVENT_TAGS")
	overrideBucket(&pm.Filters.Exclude, "POLYMARKET_EVENT_EXCLUDE_KEYWORDS")
	overrideInt(&pm.PollLimit, "POLYMARKET_POLL_LIMIT")

	ka := &cfg.Venues.Kalshi
	overrideBucket(&ka.Filters.Keywords, "KALSHI_MARKET_KEYWORDS")
	overrideBucket(&ka.Filters.Categories, "KALSHI_MARKET_CATEGORIES")
	overrideBucket(&ka.Filters.Companies, "KALSHI_MARKET_COMPANIES")
	overrideBucket(&ka.Filters.Tags, "KALSHI_MARKET_TAGS")
	overrideBucket(&ka.Filters.Exclude, "KALSHI_MARKET_EXCLUDE_KEYWORDS")
	overrideInt(&ka.PollLimit, "KALSHI_POLL_LIMIT")
	overrideString(&ka.APIKeyID, "KALSHI_API_KEY_ID")
	overrideString(&ka.APIPrivateKey, "KALSHI_PRIVATE_KEY")

	overrideString(&cfg.Sink.DatabaseURL, "PREDFLOW_DB_URL")

	if cfg.Archive.Enabled {
		overrideString(&cfg.Archive.S3.AccessKeyID, "AWS_ACCESS_KEY_ID")
		overrideString(&cfg.Archive.S3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
		overrideString(&cfg.Archive.S3.Region, "AWS_REGION")
		overrideString(&cfg.Archive.S3.Bucket, "S3_BUCKET")
	}
}

// applyClassifierDefaults fills unset classification buckets with the stock
// defaults. An explicitly disabled bucket stays disabled.
func applyClassifierDefaults(cfg *Config) {
	if !cfg.Market.StockKeywords.IsSet() {
		cfg.Market.StockKeywords = NewBucket(defaultStockKeywords...)
	}
	if !cfg.Market.NicheKeywords.IsSet() {
		cfg.Market.NicheKeywords = NewBucket(defaultNicheKeywords...)
	}
	if !cfg.Market.ExcludeKeywords.IsSet() {
		cfg.Market.ExcludeKeywords = NewBucket(defaultExcludeKeywords...)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Predflow.Name == "" {
		return fmt.Errorf("predflow.name is required")
	}
	if cfg.Predflow.Version == "" {
		return fmt.Errorf("predflow.version is required")
	}

	if cfg.Channels.TradeBuffer <= 0 {
		return fmt.Errorf("channels.trade_buffer must be greater than 0")
	}
	if cfg.Channels.ListingBuffer <= 0 {
		return fmt.Errorf("channels.listing_buffer must be greater than 0")
	}
	if cfg.Channels.RecordBuffer <= 0 {
		return fmt.Errorf("channels.record_buffer must be greater than 0")
	}

	if !cfg.Venues.Polymarket.Enabled && !cfg.Venues.Kalshi.Enabled {
		return fmt.Errorf("at least one venue must be enabled")
	}
	if err := validateVenue("polymarket", &cfg.Venues.Polymarket); err != nil {
		return err
	}
	if err := validateVenue("kalshi", &cfg.Venues.Kalshi); err != nil {
		return err
	}

	if cfg.Market.MaxYearsAhead < 0 {
		return fmt.Errorf("market.max_years_ahead must not be negative")
	}
	if cfg.Trades.USDThreshold < 0 {
		return fmt.Errorf("trades.usd_threshold must not be negative")
	}
	if cfg.Trades.ShareThreshold < 0 || cfg.Trades.ShareThreshold > 1 {
		return fmt.Errorf("trades.share_threshold must be in [0,1]")
	}
	if cfg.Cluster.Threshold < 0 || cfg.Cluster.Threshold > 100 {
		return fmt.Errorf("cluster.threshold must be in [0,100]")
	}

	if cfg.Detector.Enabled {
		if cfg.Detector.ZScoreMinSamples < 2 {
			return fmt.Errorf("detector.zscore_min_samples must be at least 2")
		}
		if cfg.Detector.SweepMinTrades < 2 {
			return fmt.Errorf("detector.sweep_min_trades must be at least 2")
		}
		if cfg.Detector.WalletThresholdUSD < 0 || cfg.Detector.YesThresholdUSD < 0 {
			return fmt.Errorf("detector thresholds must not be negative")
		}
	}

	if cfg.Sink.DatabaseURL == "" {
		return fmt.Errorf("sink.database_url is required")
	}
	if cfg.Sink.BatchSize <= 0 {
		return fmt.Errorf("sink.batch_size must be greater than 0")
	}
	if cfg.Sink.FlushInterval <= 0 {
		return fmt.Errorf("sink.flush_interval must be greater than 0")
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when the archive is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when the archive is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.S3.Bucket) {
			return fmt.Errorf("archive.s3.bucket '%s' is invalid", cfg.Archive.S3.Bucket)
		}
	}

	return nil
}

func validateVenue(name string, v *VenueConfig) error {
	if !v.Enabled {
		return nil
	}
	if !v.Streams.Any() {
		return fmt.Errorf("venues.%s: at least one stream mode must be enabled", name)
	}
	if v.RestURL == "" {
		return fmt.Errorf("venues.%s.rest_url is required", name)
	}
	if v.Streams.TradePush && v.TradeWSURL == "" {
		return fmt.Errorf("venues.%s.trade_ws_url is required for trade push", name)
	}
	if v.Streams.BookPush && v.BookWSURL == "" {
		return fmt.Errorf("venues.%s.book_ws_url is required for book push", name)
	}
	if v.Streams.RestPoll && v.PollInterval <= 0 {
		return fmt.Errorf("venues.%s.poll_interval must be greater than 0 for polling", name)
	}
	if v.PollLimit <= 0 {
		return fmt.Errorf("venues.%s.poll_limit must be greater than 0", name)
	}
	if v.ReconnectMin <= 0 || v.ReconnectMax < v.ReconnectMin {
		return fmt.Errorf("venues.%s reconnect window is invalid", name)
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
