// Package config loads finscribe configuration from defaults, an optional
// TOML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"finscribe/internal/logger"
)

// EnvConfigPath names the environment variable pointing at a TOML config file.
const EnvConfigPath = "FINSCRIBE_CONFIG"

type Config struct {
	Log        LogSection        `toml:"log"`
	Structurer StructurerSection `toml:"structurer"`
	Validator  ValidatorSection  `toml:"validator"`
	Cache      CacheSection      `toml:"cache"`
	Providers  ProvidersSection  `toml:"providers"`
	Google     GoogleSection     `toml:"google"`
	Azure      AzureSection      `toml:"azure"`
	Tesseract  TesseractSection  `toml:"tesseract"`
	OpenAI     OpenAISection     `toml:"openai"`
	Sheets     SheetsSection     `toml:"sheets"`
	JSONL      JSONLSection      `toml:"jsonl"`
	Server     ServerSection     `toml:"server"`
	Batch      BatchSection      `toml:"batch"`
}

type LogSection struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	TimeFormat string `toml:"time_format"`
	Output     string `toml:"output"`
}

// StructurerSection holds the structurer heuristics. They are tunable because
// the defaults were chosen for printed invoices in two-decimal currencies.
type StructurerSection struct {
	MinConfidence         float64 `toml:"min_confidence"`
	TextConfidence        float64 `toml:"text_confidence"`
	BoilerplateMinLength  int     `toml:"boilerplate_min_length"`
	MaxSentenceLength     float64 `toml:"max_sentence_length"`
	FallbackMaxLines      int     `toml:"fallback_max_lines"`
	FallbackMinLineLength int     `toml:"fallback_min_line_length"`
}

type ValidatorSection struct {
	Tolerance float64 `toml:"tolerance"`
	Precision int     `toml:"precision"`
}

type CacheSection struct {
	// Backend is one of memory, redis, sqlite, postgres or none.
	Backend       string `toml:"backend"`
	TTLSeconds    int    `toml:"ttl_seconds"`
	SchemaVersion string `toml:"schema_version"`
	RedisURL      string `toml:"redis_url"`
	SQLitePath    string `toml:"sqlite_path"`
	PostgresDSN   string `toml:"postgres_dsn"`
	ProbeTimeout  int    `toml:"probe_timeout_seconds"`
}

type ProvidersSection struct {
	Recognition string `toml:"recognition"`
	Enrichment  string `toml:"enrichment"`
	Push        string `toml:"push"`
}

type GoogleSection struct {
	Credentials     string `toml:"credentials"`
	CredentialsFile string `toml:"credentials_file"`
	ProjectID       string `toml:"project_id"`
	Location        string `toml:"location"`
	ProcessorID     string `toml:"processor_id"`
	ProcessorVer    string `toml:"processor_version"`
}

type AzureSection struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
}

type TesseractSection struct {
	Languages []string `toml:"languages"`
}

type OpenAISection struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Temperature       float32 `toml:"temperature"`
	MaxRetries        int     `toml:"max_retries"`
	RequestsPerMinute int     `toml:"requests_per_minute"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`

	// AttachImages sends image documents alongside the structured text.
	AttachImages bool `toml:"attach_images"`
}

type SheetsSection struct {
	URL       string `toml:"url"`
	Worksheet string `toml:"worksheet"`
}

type JSONLSection struct {
	// Path is the export file; "-" writes to stdout.
	Path string `toml:"path"`
}

type ServerSection struct {
	Addr string `toml:"addr"`
}

type BatchSection struct {
	Workers int `toml:"workers"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Log: LogSection{
			Level:      "info",
			Format:     "console",
			TimeFormat: time.RFC3339,
			Output:     "stderr",
		},
		Structurer: StructurerSection{
			MinConfidence:         0.85,
			TextConfidence:        0.90,
			BoilerplateMinLength:  500,
			MaxSentenceLength:     150,
			FallbackMaxLines:      50,
			FallbackMinLineLength: 3,
		},
		Validator: ValidatorSection{
			Tolerance: 0.01,
			Precision: 2,
		},
		Cache: CacheSection{
			Backend:       "memory",
			TTLSeconds:    86400,
			SchemaVersion: "v1",
			SQLitePath:    "finscribe-cache.db",
			ProbeTimeout:  3,
		},
		Providers: ProvidersSection{
			Recognition: "google-vision",
			Enrichment:  "openai",
		},
		Google: GoogleSection{
			Location: "us",
		},
		Tesseract: TesseractSection{
			Languages: []string{"eng"},
		},
		OpenAI: OpenAISection{
			Model:             "gpt-4o-mini",
			Temperature:       0.1,
			MaxRetries:        3,
			RequestsPerMinute: 60,
			TimeoutSeconds:    120,
		},
		Sheets: SheetsSection{
			Worksheet: "Invoices",
		},
		JSONL: JSONLSection{
			Path: "-",
		},
		Server: ServerSection{
			Addr: ":8080",
		},
		Batch: BatchSection{
			Workers: 4,
		},
	}
}

// Load builds the configuration. path may be empty, in which case the
// FINSCRIBE_CONFIG environment variable is consulted; a missing file is only
// an error when the path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.TimeFormat = getEnv("LOG_TIME_FORMAT", c.Log.TimeFormat)
	c.Log.Output = getEnv("LOG_OUTPUT", c.Log.Output)

	c.Structurer.MinConfidence = getEnvFloat("STRUCTURER_MIN_CONFIDENCE", c.Structurer.MinConfidence)
	c.Structurer.TextConfidence = getEnvFloat("STRUCTURER_TEXT_CONFIDENCE", c.Structurer.TextConfidence)
	c.Structurer.BoilerplateMinLength = getEnvInt("STRUCTURER_BOILERPLATE_MIN_LENGTH", c.Structurer.BoilerplateMinLength)
	c.Structurer.MaxSentenceLength = getEnvFloat("STRUCTURER_MAX_SENTENCE_LENGTH", c.Structurer.MaxSentenceLength)
	c.Structurer.FallbackMaxLines = getEnvInt("STRUCTURER_FALLBACK_MAX_LINES", c.Structurer.FallbackMaxLines)
	c.Structurer.FallbackMinLineLength = getEnvInt("STRUCTURER_FALLBACK_MIN_LINE_LENGTH", c.Structurer.FallbackMinLineLength)

	c.Validator.Tolerance = getEnvFloat("VALIDATOR_TOLERANCE", c.Validator.Tolerance)
	c.Validator.Precision = getEnvInt("VALIDATOR_PRECISION", c.Validator.Precision)

	c.Cache.Backend = getEnv("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTLSeconds = getEnvInt("CACHE_TTL_SECONDS", c.Cache.TTLSeconds)
	c.Cache.SchemaVersion = getEnv("CACHE_SCHEMA_VERSION", c.Cache.SchemaVersion)
	c.Cache.RedisURL = getEnv("REDIS_URL", c.Cache.RedisURL)
	c.Cache.SQLitePath = getEnv("CACHE_SQLITE_PATH", c.Cache.SQLitePath)
	c.Cache.PostgresDSN = getEnv("DATABASE_URL", c.Cache.PostgresDSN)
	c.Cache.ProbeTimeout = getEnvInt("CACHE_PROBE_TIMEOUT_SECONDS", c.Cache.ProbeTimeout)

	c.Providers.Recognition = getEnv("RECOGNITION_PROVIDER", c.Providers.Recognition)
	c.Providers.Enrichment = getEnv("ENRICHMENT_PROVIDER", c.Providers.Enrichment)
	c.Providers.Push = getEnv("PUSH_PROVIDER", c.Providers.Push)

	c.Google.Credentials = getEnv("GOOGLE_CREDENTIALS", c.Google.Credentials)
	c.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.Google.CredentialsFile)
	c.Google.ProjectID = getEnv("GOOGLE_CLOUD_PROJECT", c.Google.ProjectID)
	c.Google.Location = getEnv("GOOGLE_CLOUD_LOCATION", c.Google.Location)
	c.Google.ProcessorID = getEnv("DOCUMENT_AI_PROCESSOR_ID", c.Google.ProcessorID)
	c.Google.ProcessorVer = getEnv("DOCUMENT_AI_PROCESSOR_VERSION", c.Google.ProcessorVer)

	c.Azure.Endpoint = getEnv("AZURE_VISION_ENDPOINT", c.Azure.Endpoint)
	c.Azure.APIKey = getEnv("AZURE_VISION_KEY", c.Azure.APIKey)

	if langs := os.Getenv("TESSERACT_LANGUAGES"); langs != "" {
		c.Tesseract.Languages = splitList(langs)
	}

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.Model = getEnv("OPENAI_MODEL", c.OpenAI.Model)
	c.OpenAI.Temperature = float32(getEnvFloat("OPENAI_TEMPERATURE", float64(c.OpenAI.Temperature)))
	c.OpenAI.MaxRetries = getEnvInt("OPENAI_MAX_RETRIES", c.OpenAI.MaxRetries)
	c.OpenAI.RequestsPerMinute = getEnvInt("OPENAI_REQUESTS_PER_MINUTE", c.OpenAI.RequestsPerMinute)
	c.OpenAI.TimeoutSeconds = getEnvInt("OPENAI_TIMEOUT_SECONDS", c.OpenAI.TimeoutSeconds)
	c.OpenAI.AttachImages = getEnvBool("OPENAI_ATTACH_IMAGES", c.OpenAI.AttachImages)

	c.Sheets.URL = getEnv("GOOGLE_SHEET_URL", c.Sheets.URL)
	c.Sheets.Worksheet = getEnv("GOOGLE_SHEET_WORKSHEET", c.Sheets.Worksheet)
	c.JSONL.Path = getEnv("JSONL_PATH", c.JSONL.Path)

	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Batch.Workers = getEnvInt("BATCH_WORKERS", c.Batch.Workers)
}

// Validate checks ranges only. Provider credentials are checked when the
// provider is built, so commands that never touch a provider still run.
func (c *Config) Validate() error {
	if c.Structurer.MinConfidence < 0 || c.Structurer.MinConfidence > 1 {
		return fmt.Errorf("structurer.min_confidence must be within [0,1], got %v", c.Structurer.MinConfidence)
	}
	if c.Structurer.TextConfidence < 0 || c.Structurer.TextConfidence > 1 {
		return fmt.Errorf("structurer.text_confidence must be within [0,1], got %v", c.Structurer.TextConfidence)
	}
	if c.Structurer.FallbackMaxLines < 0 || c.Structurer.BoilerplateMinLength < 0 {
		return fmt.Errorf("structurer line and length limits must not be negative")
	}
	if c.Validator.Tolerance < 0 {
		return fmt.Errorf("validator.tolerance must not be negative, got %v", c.Validator.Tolerance)
	}
	if c.Validator.Precision < 0 || c.Validator.Precision > 8 {
		return fmt.Errorf("validator.precision must be within [0,8], got %d", c.Validator.Precision)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("cache.backend %q is not one of memory, redis, sqlite, postgres, none", c.Cache.Backend)
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must not be negative")
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1")
	}
	return nil
}

// CacheTTL returns the default cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		TimeFormat: c.Log.TimeFormat,
		Output:     c.Log.Output,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
