package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/promptgate/promptgate/internal/journal"
	"github.com/promptgate/promptgate/internal/ledger"
)

// DefaultMaxFileSize is the fallback journal size limit when the configured
// value is absent or unparseable: 10 MiB.
const DefaultMaxFileSize = 10 * 1024 * 1024

// Config combines the YAML configuration document (routing, journals,
// adapters) with environment-only operational settings.
type Config struct {
	// Environment-only settings.
	ListenAddr     string
	LogLevel       string
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
	OTelEnabled    bool
	OTLPEndpoint   string

	Router                 RouterConfig  `yaml:"Router"`
	JsonFileServiceOptions JournalConfig `yaml:"JsonFileServiceOptions"`
	History                JournalConfig `yaml:"History"`

	OpenAI    AdapterConfig `yaml:"OpenAI"`
	Anthropic AdapterConfig `yaml:"Anthropic"`
	Ollama    AdapterConfig `yaml:"Ollama"`
}

type RouterConfig struct {
	DailyBudget         float64                `yaml:"DailyBudget"`
	MaxRetries          int                    `yaml:"MaxRetries"`
	HealthCheckInterval Duration               `yaml:"HealthCheckInterval"`
	EnableCostTracking  bool                   `yaml:"EnableCostTracking"`
	EnableRateLimiting  bool                   `yaml:"EnableRateLimiting"`
	ProviderLimits      map[string]LimitConfig `yaml:"ProviderLimits"`
}

type LimitConfig struct {
	RequestLimit     int     `yaml:"RequestLimit"`
	LimitType        string  `yaml:"LimitType"`
	CostPerToken     float64 `yaml:"CostPerToken"`
	DailyBudgetLimit float64 `yaml:"DailyBudgetLimit"`
}

type JournalConfig struct {
	Enabled            bool     `yaml:"Enabled"`
	FilePath           string   `yaml:"FilePath"`
	MaxFileSizeInBytes FileSize `yaml:"MaxFileSizeInBytes"`
	MaxFileAge         AgeDays  `yaml:"MaxFileAge"`
	RolloverDirectory  string   `yaml:"RolloverDirectory"`
}

type AdapterConfig struct {
	Enabled   bool     `yaml:"Enabled"`
	ApiKey    string   `yaml:"ApiKey"`
	BaseUrl   string   `yaml:"BaseUrl"`
	Model     string   `yaml:"Model"`
	MaxTokens int      `yaml:"MaxTokens"`
	Timeout   Duration `yaml:"Timeout"`
	Priority  int      `yaml:"Priority"`
}

// FileSize is a byte count that accepts either a plain integer or a
// multiplicative expression like "5 * 1024 * 1024". Anything else falls
// back to DefaultMaxFileSize.
type FileSize int64

func (s *FileSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		if n > 0 {
			*s = FileSize(n)
		} else {
			*s = DefaultMaxFileSize
		}
		return nil
	}

	var expr string
	if err := value.Decode(&expr); err == nil {
		if v, ok := parseSizeExpression(expr); ok {
			*s = FileSize(v)
			return nil
		}
	}
	*s = DefaultMaxFileSize
	return nil
}

// parseSizeExpression evaluates "N * M * ..." with positive integer
// factors. No general expression support.
func parseSizeExpression(expr string) (int64, bool) {
	total := int64(1)
	for _, part := range strings.Split(expr, "*") {
		part = strings.TrimSpace(part)
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n <= 0 {
			return 0, false
		}
		total *= n
	}
	return total, true
}

// AgeDays is a file age expressed as a number of days.
type AgeDays float64

func (a AgeDays) Duration() time.Duration {
	return time.Duration(float64(a) * 24 * float64(time.Hour))
}

// Duration accepts either a Go duration string ("5m", "1h30m") or a plain
// number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}

	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// LoadConfig reads the YAML document named by PROMPTGATE_CONFIG (default
// config.yaml; a missing default file is tolerated), applies environment
// overrides and defaults, and validates the result.
func LoadConfig() (Config, error) {
	path := getEnv("PROMPTGATE_CONFIG", "config.yaml")
	return LoadConfigFile(path, path == "config.yaml")
}

// LoadConfigFile reads and validates one configuration file. When
// missingOK is true an absent file yields the built-in defaults.
func LoadConfigFile(path string, missingOK bool) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && missingOK:
		// Defaults only.
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnvironment()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironment() {
	c.ListenAddr = getEnv("PROMPTGATE_LISTEN_ADDR", ":8080")
	c.LogLevel = getEnv("PROMPTGATE_LOG_LEVEL", "info")
	c.CORSOrigins = getEnvStringSlice("PROMPTGATE_CORS_ORIGINS", nil)
	c.RateLimitRPS = getEnvInt("PROMPTGATE_RATE_LIMIT_RPS", 60)
	c.RateLimitBurst = getEnvInt("PROMPTGATE_RATE_LIMIT_BURST", 120)
	c.OTelEnabled = getEnvBool("PROMPTGATE_OTEL_ENABLED", false)
	c.OTLPEndpoint = getEnv("PROMPTGATE_OTLP_ENDPOINT", "localhost:4318")

	// Credentials may come from the environment instead of the file.
	if key := os.Getenv("PROMPTGATE_OPENAI_API_KEY"); key != "" {
		c.OpenAI.ApiKey = key
		c.OpenAI.Enabled = true
	}
	if key := os.Getenv("PROMPTGATE_ANTHROPIC_API_KEY"); key != "" {
		c.Anthropic.ApiKey = key
		c.Anthropic.Enabled = true
	}
	if url := os.Getenv("PROMPTGATE_OLLAMA_BASE_URL"); url != "" {
		c.Ollama.BaseUrl = url
		c.Ollama.Enabled = true
	}
}

func (c *Config) applyDefaults() {
	if c.Router.DailyBudget == 0 {
		c.Router.DailyBudget = 10.0
	}
	if c.Router.MaxRetries == 0 {
		c.Router.MaxRetries = 3
	}
	if c.Router.HealthCheckInterval == 0 {
		c.Router.HealthCheckInterval = Duration(5 * time.Minute)
	}
	for _, j := range []*JournalConfig{&c.JsonFileServiceOptions, &c.History} {
		if j.Enabled && j.MaxFileSizeInBytes == 0 {
			j.MaxFileSizeInBytes = DefaultMaxFileSize
		}
	}
	if c.OpenAI.BaseUrl == "" {
		c.OpenAI.BaseUrl = "https://api.openai.com"
	}
	if c.Anthropic.BaseUrl == "" {
		c.Anthropic.BaseUrl = "https://api.anthropic.com"
	}
}

// Validate makes configuration errors fatal before the process accepts
// traffic.
func (c Config) Validate() error {
	if c.Router.DailyBudget <= 0 {
		return fmt.Errorf("Router.DailyBudget must be > 0, got %f", c.Router.DailyBudget)
	}
	if c.Router.MaxRetries < 1 || c.Router.MaxRetries > 10 {
		return fmt.Errorf("Router.MaxRetries must be in 1..10, got %d", c.Router.MaxRetries)
	}
	if c.Router.HealthCheckInterval <= 0 {
		return fmt.Errorf("Router.HealthCheckInterval must be positive")
	}
	for name, l := range c.Router.ProviderLimits {
		switch l.LimitType {
		case ledger.LimitTypeHour, ledger.LimitTypeDay, ledger.LimitTypeMonth, ledger.LimitTypeUnlimited:
		default:
			return fmt.Errorf("ProviderLimits.%s.LimitType %q is not one of hour/day/month/unlimited", name, l.LimitType)
		}
		if l.RequestLimit < 0 {
			return fmt.Errorf("ProviderLimits.%s.RequestLimit must be >= 0", name)
		}
		if l.CostPerToken < 0 || l.DailyBudgetLimit < 0 {
			return fmt.Errorf("ProviderLimits.%s cost fields must be >= 0", name)
		}
	}
	if err := c.JsonFileServiceOptions.journalOptions().Validate(); err != nil {
		return fmt.Errorf("JsonFileServiceOptions: %w", err)
	}
	if err := c.History.journalOptions().Validate(); err != nil {
		return fmt.Errorf("History: %w", err)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("PROMPTGATE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("PROMPTGATE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	return nil
}

func (j JournalConfig) journalOptions() journal.Options {
	return journal.Options{
		Enabled:     j.Enabled,
		FilePath:    j.FilePath,
		MaxFileSize: int64(j.MaxFileSizeInBytes),
		MaxFileAge:  j.MaxFileAge.Duration(),
		RolloverDir: j.RolloverDirectory,
	}
}

// providerLimits converts the configured limits to the ledger's form.
func (c Config) providerLimits() map[string]ledger.Limit {
	limits := make(map[string]ledger.Limit, len(c.Router.ProviderLimits))
	for name, l := range c.Router.ProviderLimits {
		limits[name] = ledger.Limit{
			RequestLimit:     l.RequestLimit,
			LimitType:        l.LimitType,
			CostPerToken:     l.CostPerToken,
			DailyBudgetLimit: l.DailyBudgetLimit,
		}
	}
	return limits
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
