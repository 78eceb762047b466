package common

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. DOCSCAN_WORKERS_COUNT.
const EnvPrefix = "DOCSCAN"

// Config holds all application configuration
type Config struct {
	Media    MediaConfig    `mapstructure:"media"`
	Server   ServerConfig   `mapstructure:"server"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Detector DetectorConfig `mapstructure:"detector"`
	Raster   RasterConfig   `mapstructure:"raster"`
	Review   ReviewConfig   `mapstructure:"review"`
	Render   RenderConfig   `mapstructure:"render"`
	Store    StoreConfig    `mapstructure:"store"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Events   EventsConfig   `mapstructure:"events"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Log      LogConfig      `mapstructure:"log"`
}

// MediaConfig locates the artifact tree and the URL it is served under.
type MediaConfig struct {
	Root      string `mapstructure:"root"`
	URLPrefix string `mapstructure:"url_prefix"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string `mapstructure:"http_addr"`
	GRPCHealthAddr string `mapstructure:"grpc_health_addr"`
}

// WorkersConfig sizes the processing pool.
type WorkersConfig struct {
	Count      int           `mapstructure:"count"`
	QueueSize  int           `mapstructure:"queue_size"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// DetectorConfig points at the model inference backend.
type DetectorConfig struct {
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RPS           float64       `mapstructure:"rps"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	QRStrict      bool          `mapstructure:"qr_strict"`
}

// RasterConfig controls PDF rasterization.
type RasterConfig struct {
	Pdftoppm string `mapstructure:"pdftoppm"`
	DPI      int    `mapstructure:"dpi"`
	MaxPages int    `mapstructure:"max_pages"`
}

// ReviewConfig holds the review and summary thresholds.
type ReviewConfig struct {
	LowConfidence     float64 `mapstructure:"low_confidence"`
	DisplayThreshold  float64 `mapstructure:"display_threshold"`
	TreatEmptyAsClear bool    `mapstructure:"treat_empty_as_clear"`
}

type RenderConfig struct {
	Heatmap bool    `mapstructure:"heatmap"`
	Opacity float64 `mapstructure:"opacity"`
}

// StoreConfig selects the durable job store: file, sqlite or postgres.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// WatchConfig enables the drop-folder ingestor when Inbox is set.
type WatchConfig struct {
	Inbox    string        `mapstructure:"inbox"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// EventsConfig enables the AMQP publisher when AMQPURL is set.
type EventsConfig struct {
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
}

// MirrorConfig enables the object-storage mirror when Endpoint is set.
type MirrorConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("media.root", "./media")
	v.SetDefault("media.url_prefix", "/media")
	v.SetDefault("server.http_addr", ":8000")
	v.SetDefault("server.grpc_health_addr", ":8081")
	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.queue_size", 64)
	v.SetDefault("workers.job_timeout", 10*time.Minute)
	v.SetDefault("detector.url", "http://localhost:5000/predict")
	v.SetDefault("detector.timeout", 60*time.Second)
	v.SetDefault("detector.rps", 0)
	v.SetDefault("detector.min_confidence", 0.25)
	v.SetDefault("detector.qr_strict", true)
	v.SetDefault("raster.pdftoppm", "pdftoppm")
	v.SetDefault("raster.dpi", 200)
	v.SetDefault("raster.max_pages", 0)
	v.SetDefault("review.low_confidence", 0.5)
	v.SetDefault("review.display_threshold", 0.35)
	v.SetDefault("review.treat_empty_as_clear", true)
	v.SetDefault("render.heatmap", true)
	v.SetDefault("render.opacity", 0.6)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dsn", "")
	v.SetDefault("watch.inbox", "")
	v.SetDefault("watch.debounce", 2*time.Second)
	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.exchange", "docscan.jobs")
	v.SetDefault("mirror.endpoint", "")
	v.SetDefault("mirror.bucket", "docscan")
	v.SetDefault("mirror.access_key", "")
	v.SetDefault("mirror.secret_key", "")
	v.SetDefault("mirror.secure", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a viper instance with defaults and env binding applied.
// configFile is optional.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configFile)
		}
	}
	return v, nil
}

// LoadConfig unmarshals and validates configuration from v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	val := NewValidator().
		Field("media.root", c.Media.Root, Required).
		Field("media.url_prefix", c.Media.URLPrefix, Required).
		Field("workers.count", c.Workers.Count, Positive).
		Field("workers.queue_size", c.Workers.QueueSize, Positive).
		Field("raster.dpi", c.Raster.DPI, Positive).
		Field("detector.min_confidence", c.Detector.MinConfidence, UnitInterval).
		Field("review.low_confidence", c.Review.LowConfidence, UnitInterval).
		Field("review.display_threshold", c.Review.DisplayThreshold, UnitInterval).
		Field("render.opacity", c.Render.Opacity, UnitInterval)

	switch c.Store.Driver {
	case "file":
	case "sqlite", "postgres":
		val.Field("store.dsn", c.Store.DSN, Required)
	default:
		val.errors = append(val.errors, ValidationError{Field: "store.driver", Value: c.Store.Driver, Message: "must be file, sqlite or postgres"})
	}
	if c.Mirror.Endpoint != "" {
		val.Field("mirror.bucket", c.Mirror.Bucket, Required)
	}
	if err := val.Err(); err != nil {
		return NewAppError("CONFIG_ERROR", "invalid configuration", err)
	}
	return nil
}
