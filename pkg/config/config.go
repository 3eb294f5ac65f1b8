package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for case-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database holds the automation registry. Empty host selects the in-memory registry.
	Database DatabaseConfig `yaml:"database"`

	// Redis carries creation events and registry change notifications. Optional.
	Redis RedisConfig `yaml:"redis"`

	Inventory     InventoryConfig     `yaml:"inventory"`
	Resolution    ResolutionConfig    `yaml:"resolution"`
	Safety        SafetyConfig        `yaml:"safety"`
	Validation    ValidationConfig    `yaml:"validation"`
	Preview       PreviewConfig       `yaml:"preview"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	LLM           LLMConfig           `yaml:"llm"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"case"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"case_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

// IsConfigured returns true if a registry database is configured.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.Host != ""
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host           string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port           int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password       string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB             int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	EventChannel   string `yaml:"event_channel" env:"REDIS_EVENT_CHANNEL" env-default:"case:automation_created"`
	ChangesChannel string `yaml:"changes_channel" env:"REDIS_CHANGES_CHANNEL" env-default:"case:registry_changed"`
}

// InventoryConfig selects and tunes the device/entity inventory source.
type InventoryConfig struct {
	// Source is one of "http", "postgres", "file".
	Source   string        `yaml:"source" env:"INVENTORY_SOURCE" env-default:"file"`
	URL      string        `yaml:"url" env:"INVENTORY_URL" env-default:""`
	Token    string        `yaml:"-" env:"INVENTORY_TOKEN"` // Secret - not in YAML
	SeedFile string        `yaml:"seed_file" env:"INVENTORY_SEED_FILE" env-default:"./inventory.yaml"`
	TTL      time.Duration `yaml:"ttl" env:"INVENTORY_TTL" env-default:"5m"`
	// CacheSize bounds the number of distinct inventory lookups kept in memory.
	CacheSize int `yaml:"cache_size" env:"INVENTORY_CACHE_SIZE" env-default:"64"`
}

// ResolutionConfig tunes entity resolution.
type ResolutionConfig struct {
	Timeout             time.Duration `yaml:"timeout" env:"RESOLUTION_TIMEOUT" env-default:"10s"`
	AmbiguityMargin     float64       `yaml:"ambiguity_margin" env:"RESOLUTION_AMBIGUITY_MARGIN" env-default:"0.05"`
	AcceptanceThreshold float64       `yaml:"acceptance_threshold" env:"RESOLUTION_ACCEPTANCE_THRESHOLD" env-default:"0.4"`
	MaxCandidates       int           `yaml:"max_candidates" env:"RESOLUTION_MAX_CANDIDATES" env-default:"5"`
	MaxRetries          int           `yaml:"max_retries" env:"RESOLUTION_MAX_RETRIES" env-default:"2"`
}

// SafetyConfig points at an optional rules file layered over the built-in rules.
type SafetyConfig struct {
	RulesFile string `yaml:"rules_file" env:"SAFETY_RULES_FILE" env-default:""`
}

// ValidationConfig configures the validation chain's remote backends.
// A backend with an empty URL is left out of the chain.
type ValidationConfig struct {
	Semantic BackendConfig `yaml:"semantic" env-prefix:"VALIDATION_SEMANTIC_"`
	Registry BackendConfig `yaml:"registry" env-prefix:"VALIDATION_REGISTRY_"`
}

// BackendConfig configures one remote validation backend.
type BackendConfig struct {
	URL              string        `yaml:"url" env:"URL" env-default:""`
	Token            string        `yaml:"-" env:"TOKEN"` // Secret - not in YAML
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"15s"`
	MaxRetries       int           `yaml:"max_retries" env:"MAX_RETRIES" env-default:"2"`
	BreakerThreshold int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD" env-default:"5"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"BREAKER_RESET" env-default:"30s"`
	RatePerSecond    float64       `yaml:"rate_per_second" env:"RATE_PER_SECOND" env-default:"10"`
}

// PreviewConfig tunes the preview-and-approval state machine.
type PreviewConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"PREVIEW_TTL" env-default:"30m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"PREVIEW_SWEEP_INTERVAL" env-default:"1m"`
}

// OrchestrationConfig bounds a conversational turn.
type OrchestrationConfig struct {
	MaxRounds          int           `yaml:"max_rounds" env:"ORCHESTRATION_MAX_ROUNDS" env-default:"8"`
	MaxConcurrent      int           `yaml:"max_concurrent" env:"ORCHESTRATION_MAX_CONCURRENT" env-default:"4"`
	RegistryTimeout    time.Duration `yaml:"registry_timeout" env:"REGISTRY_WRITE_TIMEOUT" env-default:"30s"`
	EventBufferSize    int           `yaml:"event_buffer_size" env:"EVENT_BUFFER_SIZE" env-default:"128"`
	PlannerTemperature float64       `yaml:"planner_temperature" env:"PLANNER_TEMPERATURE" env-default:"0.2"`
}

// Planner providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMConfig holds the planner model and the OpenAI-compatible embedding endpoint.
type LLMConfig struct {
	// Provider is "openai" for any OpenAI-compatible endpoint or "anthropic".
	Provider       string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	BaseURL        string `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Model          string `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey         string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	EmbeddingURL   string `yaml:"embedding_url" env:"LLM_EMBEDDING_URL" env-default:""`
	EmbeddingModel string `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
}

// PlannerAvailable returns true if a chat model is configured. The Anthropic
// provider needs no base URL.
func (c *LLMConfig) PlannerAvailable() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == ProviderAnthropic {
		return c.APIKey != ""
	}
	return c.BaseURL != ""
}

// EmbeddingsAvailable returns true if an embedding endpoint is configured.
func (c *LLMConfig) EmbeddingsAvailable() bool {
	return c.EmbeddingURL != ""
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; defaults and environment apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		if !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func isMissingFile(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such file") || strings.Contains(msg, "cannot find the file")
}

// validate rejects settings that would break engine invariants.
func (c *Config) validate() error {
	switch c.Inventory.Source {
	case "http":
		if c.Inventory.URL == "" {
			return fmt.Errorf("inventory.url is required when inventory.source is http")
		}
	case "postgres":
		if !c.Database.IsConfigured() {
			return fmt.Errorf("database.host is required when inventory.source is postgres")
		}
	case "file":
	default:
		return fmt.Errorf("unknown inventory.source %q", c.Inventory.Source)
	}

	if c.Resolution.AcceptanceThreshold <= 0 || c.Resolution.AcceptanceThreshold > 1 {
		return fmt.Errorf("resolution.acceptance_threshold must be in (0,1]")
	}
	if c.Resolution.AmbiguityMargin < 0 || c.Resolution.AmbiguityMargin >= 1 {
		return fmt.Errorf("resolution.ambiguity_margin must be in [0,1)")
	}
	if c.Orchestration.MaxRounds < 1 {
		return fmt.Errorf("orchestration.max_rounds must be at least 1")
	}
	if c.Preview.TTL <= 0 {
		return fmt.Errorf("preview.ttl must be positive")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the registry database as a postgres:// URL (used by migrations).
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Addr returns the Redis address, or "" when Redis is not configured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
