package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	xerrors "Consilium/pkg/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g. CONSILIUM_LLM_API_KEY.
const EnvPrefix = "CONSILIUM"

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`

	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		SentryDSN  string `yaml:"sentry_dsn"`
		CollectLog bool   `yaml:"collect" default:"false"`
	} `yaml:"log"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"15m"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"2m"`
		BodyLimit       string        `yaml:"body_limit" default:"64K"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
		RateLimit       struct {
			Capacity     float64 `yaml:"capacity" default:"5" validate:"gte=0"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"0.1" validate:"gte=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Orchestrator struct {
		MaxConcurrency  int           `yaml:"max_concurrency" default:"10" validate:"gte=1,lte=256"`
		Deadline        time.Duration `yaml:"deadline" default:"10m" validate:"gt=0"`
		SnapshotTimeout time.Duration `yaml:"snapshot_timeout" default:"30s" validate:"gt=0"`
		Grace           time.Duration `yaml:"grace" default:"500ms" validate:"gte=0"`
	} `yaml:"orchestrator"`

	Retry struct {
		MaxAttempts       int           `yaml:"max_attempts" default:"3" validate:"gte=1,lte=10"`
		BaseDelay         time.Duration `yaml:"base_delay" default:"1s" validate:"gt=0"`
		MaxDelay          time.Duration `yaml:"max_delay" default:"30s" validate:"gt=0"`
		CallTimeout       time.Duration `yaml:"call_timeout" default:"60s" validate:"gt=0"`
		RequestsPerMinute int           `yaml:"requests_per_minute" default:"0" validate:"gte=0"`
	} `yaml:"retry"`

	LLM struct {
		Provider    string  `yaml:"provider" default:"anthropic" validate:"oneof=anthropic openai"`
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model" default:"claude-sonnet-4-20250514" validate:"required"`
		BaseURL     string  `yaml:"base_url"`
		MaxTokens   int64   `yaml:"max_tokens" default:"2048" validate:"gt=0"`
		Temperature float64 `yaml:"temperature" default:"0.3" validate:"gte=0,lte=2"`
	} `yaml:"llm"`

	Consensus struct {
		StrongBuy        float64 `yaml:"strong_buy" default:"60"`
		Buy              float64 `yaml:"buy" default:"20"`
		Hold             float64 `yaml:"hold" default:"-20"`
		Sell             float64 `yaml:"sell" default:"-60"`
		DissentThreshold float64 `yaml:"dissent_threshold" default:"50" validate:"gte=0"`
		TopN             int     `yaml:"top_n" default:"5" validate:"gte=1"`
	} `yaml:"consensus"`

	Cost struct {
		Profiles struct {
			Specialist              TokenProfile `yaml:"specialist"`
			Investor                TokenProfile `yaml:"investor"`
			InvestorSkipSpecialists TokenProfile `yaml:"investor_skip_specialists"`
		} `yaml:"profiles"`
		Pricing []ModelPrice `yaml:"pricing" validate:"dive"`
	} `yaml:"cost"`

	Cache struct {
		Store         string                   `yaml:"store" default:"memory" validate:"oneof=memory redis layered"`
		TTL           map[string]time.Duration `yaml:"ttl"`
		StaleFallback map[string]bool          `yaml:"stale_fallback"`
		Retention     time.Duration            `yaml:"retention" default:"720h" validate:"gt=0"`
		LocalTTL      time.Duration            `yaml:"local_ttl" default:"1m"`
		Redis         struct {
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db" default:"0"`
			Prefix   string `yaml:"prefix" default:"consilium:md:"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Finnhub struct {
		APIKey            string        `yaml:"api_key"`
		BaseURL           string        `yaml:"base_url" default:"https://finnhub.io/api/v1" validate:"url"`
		WebSocketURL      string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		RequestsPerSecond float64       `yaml:"requests_per_second" default:"1" validate:"gt=0"`
		Burst             float64       `yaml:"burst" default:"30" validate:"gte=1"`
		CandleDays        int           `yaml:"candle_days" default:"365" validate:"gte=30"`
		Timeout           time.Duration `yaml:"timeout" default:"15s"`
		Stream            struct {
			Enabled        bool          `yaml:"enabled" default:"false"`
			Symbols        []string      `yaml:"symbols"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		} `yaml:"stream"`
	} `yaml:"finnhub"`

	Persistence struct {
		Backend string `yaml:"backend" default:"memory" validate:"oneof=memory clickhouse postgres"`
	} `yaml:"persistence"`

	ClickHouse struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"consilium"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecTime  time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`

	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	} `yaml:"postgres"`

	Kafka struct {
		Enabled bool     `yaml:"enabled" default:"false"`
		Brokers []string `yaml:"brokers"`
		Topics  struct {
			Results  string `yaml:"results" default:"consilium.consensus"`
			Requests string `yaml:"requests" default:"consilium.analysis-requests"`
			Logs     string `yaml:"logs" default:"consilium.logs"`
		} `yaml:"topics"`
		RequiredAcks int    `yaml:"required_acks" default:"-1"`
		Compression  string `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"consilium"`
			Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"16"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Agents struct {
		CatalogPath string             `yaml:"catalog_path"`
		Weights     map[string]float64 `yaml:"weights"`
	} `yaml:"agents"`
}

type TokenProfile struct {
	Input  int64 `yaml:"input" validate:"gte=0"`
	Output int64 `yaml:"output" validate:"gte=0"`
}

// ModelPrice is USD per million tokens for models whose name contains Match.
type ModelPrice struct {
	Match  string  `yaml:"match" validate:"required"`
	Input  float64 `yaml:"input" validate:"gte=0"`
	Output float64 `yaml:"output" validate:"gte=0"`
}

// overrides is the flat set of fields envconfig is allowed to touch.
type overrides struct {
	Environment  string   `envconfig:"ENVIRONMENT"`
	LogLevel     string   `envconfig:"LOG_LEVEL"`
	SentryDSN    string   `envconfig:"SENTRY_DSN"`
	Port         int      `envconfig:"PORT"`
	LLMProvider  string   `envconfig:"LLM_PROVIDER"`
	LLMAPIKey    string   `envconfig:"LLM_API_KEY"`
	LLMModel     string   `envconfig:"LLM_MODEL"`
	LLMBaseURL   string   `envconfig:"LLM_BASE_URL"`
	FinnhubKey   string   `envconfig:"FINNHUB_API_KEY"`
	CacheStore   string   `envconfig:"CACHE_STORE"`
	RedisAddr    string   `envconfig:"REDIS_ADDR"`
	Persistence  string   `envconfig:"PERSISTENCE_BACKEND"`
	PostgresDSN  string   `envconfig:"POSTGRES_DSN"`
	KafkaEnabled *bool    `envconfig:"KAFKA_ENABLED"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	Concurrency  int      `envconfig:"MAX_CONCURRENCY"`
}

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.applyDomainDefaults()
	return &c
}

// Load reads and parses a YAML (or .toml) configuration file. An empty path yields defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if b, err = tomlToYAML(b); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.applyDomainDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, then applies CONSILIUM_* overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	var o overrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	c.apply(o)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) apply(o overrides) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setStr(&c.Environment, o.Environment)
	setStr(&c.Log.Level, o.LogLevel)
	setStr(&c.Log.SentryDSN, o.SentryDSN)
	setStr(&c.LLM.Provider, o.LLMProvider)
	setStr(&c.LLM.APIKey, o.LLMAPIKey)
	setStr(&c.LLM.Model, o.LLMModel)
	setStr(&c.LLM.BaseURL, o.LLMBaseURL)
	setStr(&c.Finnhub.APIKey, o.FinnhubKey)
	setStr(&c.Cache.Store, o.CacheStore)
	setStr(&c.Cache.Redis.Addr, o.RedisAddr)
	setStr(&c.Persistence.Backend, o.Persistence)
	setStr(&c.Postgres.DSN, o.PostgresDSN)
	if o.Port > 0 {
		c.Server.Port = o.Port
	}
	if o.Concurrency > 0 {
		c.Orchestrator.MaxConcurrency = o.Concurrency
	}
	if o.KafkaEnabled != nil {
		c.Kafka.Enabled = *o.KafkaEnabled
	}
	if len(o.KafkaBrokers) > 0 {
		c.Kafka.Brokers = o.KafkaBrokers
	}
}

// applyDomainDefaults fills maps and slices that struct tags cannot express.
func (c *Config) applyDomainDefaults() {
	if c.Cache.TTL == nil {
		c.Cache.TTL = map[string]time.Duration{}
	}
	for k, v := range map[string]time.Duration{
		"price":        5 * time.Minute,
		"fundamentals": 24 * time.Hour,
		"technicals":   time.Hour,
		"info":         7 * 24 * time.Hour,
	} {
		if _, ok := c.Cache.TTL[k]; !ok {
			c.Cache.TTL[k] = v
		}
	}
	if c.Cache.StaleFallback == nil {
		c.Cache.StaleFallback = map[string]bool{}
	}
	for k, v := range map[string]bool{
		"price":        false,
		"fundamentals": true,
		"technicals":   true,
		"info":         true,
	} {
		if _, ok := c.Cache.StaleFallback[k]; !ok {
			c.Cache.StaleFallback[k] = v
		}
	}

	p := &c.Cost.Profiles
	if p.Specialist == (TokenProfile{}) {
		p.Specialist = TokenProfile{Input: 600, Output: 500}
	}
	if p.Investor == (TokenProfile{}) {
		p.Investor = TokenProfile{Input: 2500, Output: 700}
	}
	if p.InvestorSkipSpecialists == (TokenProfile{}) {
		p.InvestorSkipSpecialists = TokenProfile{Input: 1300, Output: 700}
	}
	if len(c.Cost.Pricing) == 0 {
		c.Cost.Pricing = []ModelPrice{
			{Match: "opus", Input: 15, Output: 75},
			{Match: "sonnet", Input: 3, Output: 15},
			{Match: "haiku", Input: 0.25, Output: 1.25},
		}
	}
}

var validate = validator.New()

var categories = map[string]struct{}{"price": {}, "fundamentals": {}, "technicals": {}, "info": {}}

// Validate checks tag constraints and cross-field rules. Failures are ConfigurationErrors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return xerrors.NewConfigurationError(fieldPath(fe.Namespace()), "failed %q (value %v)", fe.Tag(), fe.Value())
		}
		return xerrors.NewConfigurationError("config", "%v", err)
	}

	t := c.Consensus
	if !(t.StrongBuy > t.Buy && t.Buy > t.Hold && t.Hold > t.Sell) {
		return xerrors.NewConfigurationError("consensus", "thresholds must be strictly descending, got %v > %v > %v > %v",
			t.StrongBuy, t.Buy, t.Hold, t.Sell)
	}
	if t.StrongBuy > 100 || t.Sell < -100 {
		return xerrors.NewConfigurationError("consensus", "thresholds must lie within [-100, 100]")
	}

	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return xerrors.NewConfigurationError("retry.base_delay", "must not exceed max_delay (%s)", c.Retry.MaxDelay)
	}

	for k, ttl := range c.Cache.TTL {
		if _, ok := categories[k]; !ok {
			return xerrors.NewConfigurationError("cache.ttl."+k, "unknown data category")
		}
		if ttl <= 0 {
			return xerrors.NewConfigurationError("cache.ttl."+k, "must be positive, got %s", ttl)
		}
		if ttl > c.Cache.Retention {
			return xerrors.NewConfigurationError("cache.retention", "must be at least the longest ttl (%s)", ttl)
		}
	}
	for k := range c.Cache.StaleFallback {
		if _, ok := categories[k]; !ok {
			return xerrors.NewConfigurationError("cache.stale_fallback."+k, "unknown data category")
		}
	}

	for id, w := range c.Agents.Weights {
		if w < 0 {
			return xerrors.NewConfigurationError("agents.weights."+id, "weight must be >= 0, got %v", w)
		}
	}

	if c.Persistence.Backend == "postgres" && c.Postgres.DSN == "" {
		return xerrors.NewConfigurationError("postgres.dsn", "required when persistence.backend is postgres")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return xerrors.NewConfigurationError("kafka.brokers", "required when kafka is enabled")
	}
	if c.Finnhub.Stream.Enabled && len(c.Finnhub.Stream.Symbols) == 0 {
		return xerrors.NewConfigurationError("finnhub.stream.symbols", "cannot be empty when the stream is enabled")
	}
	return nil
}

// RequireLLM is checked by commands that actually call the language-model service.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return xerrors.NewConfigurationError("llm.api_key", "required (set %s_LLM_API_KEY)", EnvPrefix)
	}
	return nil
}

func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// tomlToYAML re-encodes a TOML document so a single set of yaml tags drives decoding.
func tomlToYAML(b []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("toml: %w", err)
	}
	return yaml.Marshal(doc)
}
