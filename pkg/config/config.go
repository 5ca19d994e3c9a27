package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Sink names accepted in output.sinks.
const (
	SinkFile       = "file"
	SinkClickHouse = "clickhouse"
	SinkKafka      = "kafka"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		BodyLimit       string        `yaml:"body_limit" default:"8M"`
		CORS            bool          `yaml:"cors"`
		RateBurst       float64       `yaml:"rate_burst" default:"20" validate:"gte=0"`
		RatePerSecond   float64       `yaml:"rate_per_second" default:"5" validate:"gte=0"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics" validate:"startswith=/"`
	} `yaml:"metrics"`
	Fit struct {
		MaxEvaluations int      `yaml:"max_evaluations" default:"20000" validate:"min=1"`
		XTolerance     float64  `yaml:"x_tolerance" default:"1e-10" validate:"gt=0"`
		FTolerance     float64  `yaml:"f_tolerance" default:"1e-14" validate:"gt=0"`
		Models         []string `yaml:"models"`
	} `yaml:"fit"`
	Derive struct {
		Tolerance     float64 `yaml:"tolerance" default:"1e-9" validate:"gt=0"`
		MaxIterations int     `yaml:"max_iterations" default:"50" validate:"min=1"`
	} `yaml:"derive"`
	Output struct {
		Dir   string   `yaml:"dir" default:"."`
		Sinks []string `yaml:"sinks" default:"[\"file\"]" validate:"min=1,dive,oneof=file clickhouse kafka"`
	} `yaml:"output"`
	Cache struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		TTL             time.Duration `yaml:"ttl" default:"1h"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" default:"5m"`
		Redis           struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db" validate:"min=0"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Kafka struct {
		Brokers     []string `yaml:"brokers"`
		Compression string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Topics      struct {
			Fits   string `yaml:"fits" default:"eos.fits"`
			Curves string `yaml:"curves" default:"eos.curves"`
			Jobs   string `yaml:"jobs" default:"eos.jobs"`
			Logs   string `yaml:"logs" default:"eos.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"eosfit"`
			Workers    int           `yaml:"workers" default:"2" validate:"min=1"`
			BufferSize int           `yaml:"buffer_size" default:"16" validate:"min=1"`
			RetryMax   int           `yaml:"retry_max" default:"2" validate:"min=0"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"eos.jobs.dlq"`
			DataDir    string        `yaml:"data_dir" default:"."`
			LockTTL    time.Duration `yaml:"lock_ttl" default:"10m"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"eosfit"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// Default returns a configuration made only of default values.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML (defaults only when path is empty)
// and overrides it with EOS_* environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c := Default()
	if path != "" {
		var err error
		if c, err = Load(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("EOS_ENV", &c.Environment)
	str("EOS_LOG_LEVEL", &c.Log.Level)
	str("EOS_LOG_FORMAT", &c.Log.Format)
	str("EOS_OUTPUT_DIR", &c.Output.Dir)
	list("EOS_SINKS", &c.Output.Sinks)
	list("EOS_MODELS", &c.Fit.Models)
	list("EOS_KAFKA_BROKERS", &c.Kafka.Brokers)
	str("EOS_CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("EOS_CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	if v, ok := lookup("EOS_REDIS_ADDR"); ok && v != "" {
		c.Cache.Redis.Addr = v
		c.Cache.Redis.Enabled = true
	}
	if v, ok := lookup("EOS_SERVER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EOS_SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks field constraints and the backends required by the
// configured sinks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	if c.HasSink(SinkKafka) && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required for the kafka sink"))
	}
	if c.HasSink(SinkClickHouse) && c.ClickHouse.Host == "" {
		errs = append(errs, errors.New("clickhouse.host is required for the clickhouse sink"))
	}
	if c.Kafka.Consumer.BackoffMax < c.Kafka.Consumer.BackoffMin {
		errs = append(errs, errors.New("kafka.consumer.backoff_max must not be below backoff_min"))
	}
	return errors.Join(errs...)
}

// HasSink reports whether name is among the configured output sinks.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Output.Sinks, name)
}
