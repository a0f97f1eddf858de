package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"market-scanner/internal/automation"
	"market-scanner/internal/layout"
	"market-scanner/internal/logging"
	"market-scanner/internal/version"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Process   ProcessConfig   `mapstructure:"process"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Layout    layout.Offsets  `mapstructure:"layout"`
	Reader    ReaderConfig    `mapstructure:"reader"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	UI        UIConfig        `mapstructure:"ui"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Report    ReportConfig    `mapstructure:"report"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ProcessConfig selects the target client process. Pid wins over Name.
type ProcessConfig struct {
	Pid  int    `mapstructure:"pid" validate:"gte=0"`
	Name string `mapstructure:"name"`
}

// ScanConfig tunes the value scanner.
type ScanConfig struct {
	ChunkSize   int `mapstructure:"chunk_size" validate:"gt=0"`
	MaxTextWalk int `mapstructure:"max_text_walk" validate:"gt=0"`
}

// ReaderConfig tunes record validation.
type ReaderConfig struct {
	NoiseFloor    int64            `mapstructure:"noise_floor" validate:"gte=0"`
	MaxOffer      int64            `mapstructure:"max_offer" validate:"gt=0"`
	PriceCeilings map[string]int64 `mapstructure:"price_ceilings" validate:"dive,gt=0"`
	ActiveWindow  time.Duration    `mapstructure:"active_window" validate:"gt=0"`
	IDReads       int              `mapstructure:"id_reads" validate:"gte=1,lte=9"`
}

// CrawlConfig bounds one crawl.
type CrawlConfig struct {
	Categories            []string      `mapstructure:"categories" validate:"dive,required"`
	Settle                time.Duration `mapstructure:"settle" validate:"gte=0"`
	MaxDriftRetries       int           `mapstructure:"max_drift_retries" validate:"gte=0"`
	MaxTransientRetries   int           `mapstructure:"max_transient_retries" validate:"gte=0"`
	MaxDuplicateRetries   int           `mapstructure:"max_duplicate_retries" validate:"gte=0"`
	MaxCalibrationSamples int           `mapstructure:"max_calibration_samples" validate:"gt=0"`
	AntiIdleInterval      time.Duration `mapstructure:"anti_idle_interval" validate:"gte=0"`
	MaxItems              int           `mapstructure:"max_items" validate:"gt=0"`
}

// UIConfig holds the external automation commands.
type UIConfig struct {
	Commands automation.Commands `mapstructure:"commands"`
	Timeout  time.Duration       `mapstructure:"timeout" validate:"gt=0"`
}

// CatalogConfig locates the item list and its source page.
type CatalogConfig struct {
	File             string        `mapstructure:"file" validate:"required"`
	URL              string        `mapstructure:"url" validate:"omitempty,url"`
	RowSelector      string        `mapstructure:"row_selector"`
	IDAttr           string        `mapstructure:"id_attr"`
	NameSelector     string        `mapstructure:"name_selector"`
	CategorySelector string        `mapstructure:"category_selector"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// ReportConfig places the CSV outputs.
type ReportConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// DatabaseConfig selects the snapshot store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=none postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	SQLitePath      string        `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// KafkaConfig enables the snapshot stream when Brokers is set.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic" validate:"required_with=Brokers"`
	Compression  string        `mapstructure:"compression" validate:"omitempty,oneof=gzip snappy lz4 zstd"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AlertingConfig defines run notifications.
type AlertingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// TopN lists the best flips in the completion message.
	TopN     int            `mapstructure:"top_n" validate:"gte=0"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	ChatID   string `mapstructure:"chat_id" validate:"required_if=Enabled true"`
	APIBase  string `mapstructure:"api_base"`
}

// SchedulerConfig governs when crawls start.
type SchedulerConfig struct {
	// Times are local HH:MM start times.
	Times      []string `mapstructure:"times" validate:"min=1,dive,clock"`
	RunOnStart bool     `mapstructure:"run_on_start"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points" validate:"gt=0"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketscan")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("process.pid", 0)
	v.SetDefault("process.name", "")

	v.SetDefault("scan.chunk_size", 1<<20)
	v.SetDefault("scan.max_text_walk", 8)

	offsets := layout.DefaultOffsets()
	v.SetDefault("layout.slots", offsets.Slots)
	v.SetDefault("layout.slot_stride", offsets.SlotStride)
	v.SetDefault("layout.amount_delta", offsets.AmountDelta)
	v.SetDefault("layout.timestamp_delta", offsets.TimestampDelta)
	v.SetDefault("layout.min_delta", offsets.MinDelta)
	v.SetDefault("layout.total_delta", offsets.TotalDelta)
	v.SetDefault("layout.count_delta", offsets.CountDelta)

	v.SetDefault("reader.noise_floor", 100)
	v.SetDefault("reader.max_offer", int64(8_000_000_000))
	v.SetDefault("reader.price_ceilings", map[string]int64{})
	v.SetDefault("reader.active_window", "24h")
	v.SetDefault("reader.id_reads", 3)

	v.SetDefault("crawl.categories", []string{})
	v.SetDefault("crawl.settle", "1500ms")
	v.SetDefault("crawl.max_drift_retries", 10)
	v.SetDefault("crawl.max_transient_retries", 3)
	v.SetDefault("crawl.max_duplicate_retries", 3)
	v.SetDefault("crawl.max_calibration_samples", 12)
	v.SetDefault("crawl.anti_idle_interval", "20m")
	v.SetDefault("crawl.max_items", 5000)

	v.SetDefault("ui.timeout", "30s")

	v.SetDefault("catalog.file", "items.yaml")
	v.SetDefault("catalog.row_selector", "tr[data-item-id]")
	v.SetDefault("catalog.id_attr", "data-item-id")
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.user_agent", version.UserAgent())

	v.SetDefault("report.dir", "output")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "data/marketscan.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x6d6b7473))

	v.SetDefault("kafka.topic", "market-snapshots")
	v.SetDefault("kafka.compression", "gzip")
	v.SetDefault("kafka.write_timeout", "10s")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.top_n", 5)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("scheduler.times", []string{"06:00", "18:00"})
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

var clockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockRe.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks struct rules and cross-field constraints.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	for name := range c.Reader.PriceCeilings {
		if name != strings.ToLower(name) {
			return fmt.Errorf("reader.price_ceilings key %q must be lowercase", name)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
