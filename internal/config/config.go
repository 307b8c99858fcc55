package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"

	configPathEnv       = "ARXIVMIND_CONFIG"
	logLevelEnv         = "LOG_LEVEL"
	databaseDriverEnv   = "DATABASE_DRIVER"
	databaseDSNEnv      = "DATABASE_DSN"
	analysisAPIKeyEnv   = "ANALYSIS_API_KEY"
	dashscopeAPIKeyEnv  = "DASHSCOPE_API_KEY"
	analysisModelEnv    = "ANALYSIS_MODEL"
	analysisEndpointEnv = "ANALYSIS_ENDPOINT"
	pipelineModeEnv     = "PIPELINE_MODE"
	telegramTokenEnv    = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv   = "TELEGRAM_CHAT_ID"
	semanticScholarEnv  = "SEMANTIC_SCHOLAR_API_KEY"
)

// Analysis modes.
const (
	ModeConcurrent = "concurrent"
	ModeBatch      = "batch"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Catalog       CatalogConfig      `yaml:"catalog"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Citations     CitationsConfig    `yaml:"citations"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Sites         []SiteConfig       `yaml:"sites"`
}

// LoggingConfig selects verbosity and output encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the record store connection.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when the daily pipeline should run.
type SchedulerConfig struct {
	RunAt    string         `yaml:"runAt"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// PipelineConfig tunes the fetch and analyze stages.
type PipelineConfig struct {
	Topic      string `yaml:"topic"`
	MaxResults int    `yaml:"maxResults"`
	Mode       string `yaml:"mode"`
	Workers    int    `yaml:"workers"`
	MaxPages   int    `yaml:"maxPages"`
}

// CatalogConfig controls politeness towards the paper catalog.
type CatalogConfig struct {
	RequestInterval Duration `yaml:"requestInterval"`
	DownloadRate    float64  `yaml:"downloadRate"`
}

// AnalysisConfig defines how to contact the OpenAI-compatible analysis service.
type AnalysisConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	Model          string   `yaml:"model"`
	APIKey         string   `yaml:"apiKey"`
	SystemPrompt   string   `yaml:"systemPrompt"`
	Temperature    float64  `yaml:"temperature"`
	Timeout        Duration `yaml:"timeout"`
	MaxInputRunes  int      `yaml:"maxInputRunes"`
	BatchWindow    string   `yaml:"batchWindow"`
	RequestsPerSec float64  `yaml:"requestsPerSecond"`
}

// CitationsConfig toggles Semantic Scholar enrichment.
type CitationsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	BaseURL         string   `yaml:"baseUrl"`
	APIKey          string   `yaml:"apiKey"`
	RequestInterval Duration `yaml:"requestInterval"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken   string `yaml:"botToken"`
	ChatID     string `yaml:"chatId"`
	APIBaseURL string `yaml:"apiBaseUrl"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name       string            `yaml:"name"`
	Scanner    string            `yaml:"scanner"`
	Categories []CategoryConfig  `yaml:"categories"`
	Options    map[string]string `yaml:"options"`
}

// CategoryConfig holds the concrete endpoints to crawl (e.g., arXiv category URLs).
type CategoryConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Duration accepts Go duration strings such as "3s" in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses the scalar with time.ParseDuration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Load reads .env, the YAML configuration (if present) and applies environment overrides.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load .env: %v", err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Sites) == 0 {
		cfg.Sites = defaultConfig().Sites
	}

	return cfg
}

// Validate reports settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required"))
	}
	if c.Pipeline.Mode != ModeConcurrent && c.Pipeline.Mode != ModeBatch {
		errs = append(errs, fmt.Errorf("pipeline.mode must be %s or %s, got %q", ModeConcurrent, ModeBatch, c.Pipeline.Mode))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be positive"))
	}
	if _, _, err := ParseClock(c.Scheduler.RunAt); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseClock splits an "HH:MM" string.
func ParseClock(value string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler.runAt must be HH:MM, got %q", value)
	}
	return t.Hour(), t.Minute(), nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(dashscopeAPIKeyEnv); v != "" {
		c.Analysis.APIKey = v
	}
	if v := os.Getenv(analysisAPIKeyEnv); v != "" {
		c.Analysis.APIKey = v
	}
	if v := os.Getenv(analysisModelEnv); v != "" {
		c.Analysis.Model = v
	}
	if v := os.Getenv(analysisEndpointEnv); v != "" {
		c.Analysis.Endpoint = v
	}

	if v := os.Getenv(pipelineModeEnv); v != "" {
		c.Pipeline.Mode = strings.ToLower(v)
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(semanticScholarEnv); v != "" {
		c.Citations.APIKey = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Scheduler.RunAt != "" {
		base.Scheduler.RunAt = override.Scheduler.RunAt
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Pipeline.Topic != "" {
		base.Pipeline.Topic = override.Pipeline.Topic
	}
	if override.Pipeline.MaxResults > 0 {
		base.Pipeline.MaxResults = override.Pipeline.MaxResults
	}
	if override.Pipeline.Mode != "" {
		base.Pipeline.Mode = strings.ToLower(override.Pipeline.Mode)
	}
	if override.Pipeline.Workers > 0 {
		base.Pipeline.Workers = override.Pipeline.Workers
	}
	if override.Pipeline.MaxPages > 0 {
		base.Pipeline.MaxPages = override.Pipeline.MaxPages
	}

	if override.Catalog.RequestInterval.Duration > 0 {
		base.Catalog.RequestInterval = override.Catalog.RequestInterval
	}
	if override.Catalog.DownloadRate > 0 {
		base.Catalog.DownloadRate = override.Catalog.DownloadRate
	}

	if override.Analysis.Endpoint != "" {
		base.Analysis.Endpoint = override.Analysis.Endpoint
	}
	if override.Analysis.Model != "" {
		base.Analysis.Model = override.Analysis.Model
	}
	if override.Analysis.APIKey != "" {
		base.Analysis.APIKey = override.Analysis.APIKey
	}
	if override.Analysis.SystemPrompt != "" {
		base.Analysis.SystemPrompt = override.Analysis.SystemPrompt
	}
	if override.Analysis.Temperature > 0 {
		base.Analysis.Temperature = override.Analysis.Temperature
	}
	if override.Analysis.Timeout.Duration > 0 {
		base.Analysis.Timeout = override.Analysis.Timeout
	}
	if override.Analysis.MaxInputRunes > 0 {
		base.Analysis.MaxInputRunes = override.Analysis.MaxInputRunes
	}
	if override.Analysis.BatchWindow != "" {
		base.Analysis.BatchWindow = override.Analysis.BatchWindow
	}
	if override.Analysis.RequestsPerSec > 0 {
		base.Analysis.RequestsPerSec = override.Analysis.RequestsPerSec
	}

	if override.Citations.Enabled {
		base.Citations.Enabled = true
	}
	if override.Citations.BaseURL != "" {
		base.Citations.BaseURL = override.Citations.BaseURL
	}
	if override.Citations.APIKey != "" {
		base.Citations.APIKey = override.Citations.APIKey
	}
	if override.Citations.RequestInterval.Duration > 0 {
		base.Citations.RequestInterval = override.Citations.RequestInterval
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Telegram.APIBaseURL != "" {
		base.Notifications.Telegram.APIBaseURL = override.Notifications.Telegram.APIBaseURL
	}

	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	if len(override.Sites) > 0 {
		base.Sites = override.Sites
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "file:arxivmind.db"},
		Scheduler: SchedulerConfig{RunAt: "06:00", Timezone: defaultTimezone, location: tz},
		Pipeline: PipelineConfig{
			Topic:      "cs.AI",
			MaxResults: 50,
			Mode:       ModeConcurrent,
			Workers:    3,
			MaxPages:   8,
		},
		Catalog: CatalogConfig{
			RequestInterval: Duration{3 * time.Second},
			DownloadRate:    1,
		},
		Analysis: AnalysisConfig{
			Endpoint:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:         "qwen-plus",
			Temperature:   0.3,
			Timeout:       Duration{120 * time.Second},
			MaxInputRunes: 30000,
			BatchWindow:   "24h",
		},
		Citations: CitationsConfig{
			Enabled:         false,
			BaseURL:         "https://api.semanticscholar.org/graph/v1",
			RequestInterval: Duration{time.Second},
		},
		Sites: []SiteConfig{
			{
				Name:    "arxiv-default",
				Scanner: "arxiv-api",
			},
		},
	}
}

// String renders the effective settings without secrets, for the config command.
func (c Config) String() string {
	redacted := c
	redacted.Analysis.APIKey = mask(c.Analysis.APIKey)
	redacted.Citations.APIKey = mask(c.Citations.APIKey)
	redacted.Notifications.Telegram.BotToken = mask(c.Notifications.Telegram.BotToken)
	out, err := yaml.Marshal(redacted)
	if err != nil {
		return "config: " + err.Error()
	}
	return string(out)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***" + strconv.Itoa(len(secret))
}
