package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig               `mapstructure:"app"`
	Camunda  CamundaConfig           `mapstructure:"camunda"`
	Database DatabaseConfig          `mapstructure:"database"`
	Workers  map[string]WorkerConfig `mapstructure:"workers"`
	APIs     APIsConfig              `mapstructure:"apis"`
	AWS      AWSConfig               `mapstructure:"aws"`
	Advisor  AdvisorConfig           `mapstructure:"advisor"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Metrics  MetricsConfig           `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// DatabaseConfig selects the conversation store driver ("postgres" or
// "sqlite") and holds every backing service connection.
type DatabaseConfig struct {
	Driver        string              `mapstructure:"driver"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	SQLite        SQLiteConfig        `mapstructure:"sqlite"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type ElasticsearchConfig struct {
	Addresses     []string `mapstructure:"addresses"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	AnalysisIndex string   `mapstructure:"analysis_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	GenAI struct {
		BaseURL     string  `mapstructure:"base_url"`
		APIKey      string  `mapstructure:"api_key"`
		Timeout     int     `mapstructure:"timeout"` // milliseconds
		MaxTokens   int     `mapstructure:"max_tokens"`
		Temperature float64 `mapstructure:"temperature"`
	} `mapstructure:"genai"`
}

// AWSConfig covers the export artifact bucket, export link e-mails and quota
// event notifications.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	S3     struct {
		Bucket string `mapstructure:"bucket"`
		Prefix string `mapstructure:"prefix"`
		URLTTL int    `mapstructure:"url_ttl"` // seconds
	} `mapstructure:"s3"`
	SES struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"ses"`
	SNS struct {
		Enabled       bool   `mapstructure:"enabled"`
		QuotaTopicARN string `mapstructure:"quota_topic_arn"`
	} `mapstructure:"sns"`
}

// --- Advisor Configuration ---

type AdvisorConfig struct {
	Context     ContextConfig     `mapstructure:"context"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Turn        TurnConfig        `mapstructure:"turn"`
	Export      ExportConfig      `mapstructure:"export"`
	Suggestions SuggestionsConfig `mapstructure:"suggestions"`
}

type ContextConfig struct {
	VerbatimThreshold int    `mapstructure:"verbatim_threshold"`
	RecentMessages    int    `mapstructure:"recent_messages"`
	MaxMessageChars   int    `mapstructure:"max_message_chars"`
	MaxSummaryChars   int    `mapstructure:"max_summary_chars"`
	Summarizer        string `mapstructure:"summarizer"` // heuristic | backend
}

// TierLimits mirrors models.TierPolicy. A negative limit is unlimited and 0
// blocks the tier. A field left out of the config takes the built-in default
// for that tier name, or unlimited for tiers without one.
type TierLimits struct {
	PerAnalysisLimit *int `mapstructure:"per_analysis_limit"`
	MonthlyLimit     *int `mapstructure:"monthly_limit"`
}

// Limit returns a pointer to n for TierLimits literals.
func Limit(n int) *int {
	return &n
}

type QuotaConfig struct {
	Backend       string                `mapstructure:"backend"` // redis | memory
	DefaultTier   string                `mapstructure:"default_tier"`
	Tiers         map[string]TierLimits `mapstructure:"tiers"`
	SweepSchedule string                `mapstructure:"sweep_schedule"`
	TierCacheTTL  int                   `mapstructure:"tier_cache_ttl"` // seconds
}

type DetectorConfig struct {
	Threshold         int  `mapstructure:"threshold"`
	ClassifierEnabled bool `mapstructure:"classifier_enabled"`
	ClassifierTimeout int  `mapstructure:"classifier_timeout"` // milliseconds
}

type TurnConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
	BackendTimeout   int `mapstructure:"backend_timeout"` // milliseconds
	RetryBackoff     int `mapstructure:"retry_backoff"`   // milliseconds
	LockTTL          int `mapstructure:"lock_ttl"`        // milliseconds
}

type ExportConfig struct {
	Sink      string `mapstructure:"sink"` // local | s3
	LocalDir  string `mapstructure:"local_dir"`
	URLPrefix string `mapstructure:"url_prefix"`
	// PDFFont is a UTF-8 TrueType font for PDF exports. Empty keeps the
	// Windows-1252 core font.
	PDFFont     string `mapstructure:"pdf_font"`
	PDFBoldFont string `mapstructure:"pdf_font_bold"`
}

type SuggestionsConfig struct {
	Max int `mapstructure:"max"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}
