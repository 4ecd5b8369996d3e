package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, overlays configs/config.<APP_ENVIRONMENT>.yaml
// and expands ${VAR} placeholders from the environment (and .env if present).
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env", "../../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		switch val := v.Get(key).(type) {
		case string:
			if expanded := os.ExpandEnv(val); expanded != val {
				v.Set(key, expanded)
			}
		case []interface{}:
			out := make([]interface{}, len(val))
			for i, item := range val {
				if str, ok := item.(string); ok {
					out[i] = os.ExpandEnv(str)
				} else {
					out[i] = item
				}
			}
			v.Set(key, out)
		}
	}
}

func overrideEmptyConfig(cfg *Config) {
	if cfg.APIs.GenAI.APIKey == "" {
		cfg.APIs.GenAI.APIKey = os.Getenv("GENAI_API_KEY")
	}
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = os.Getenv("AWS_REGION")
	}
}

// DefaultTiers is used when no quota tiers are configured: the free tier gets
// five questions per analysis, paid tiers are unlimited.
func DefaultTiers() map[string]TierLimits {
	return map[string]TierLimits{
		"free":       {PerAnalysisLimit: Limit(5), MonthlyLimit: Limit(-1)},
		"pro":        {PerAnalysisLimit: Limit(-1), MonthlyLimit: Limit(-1)},
		"enterprise": {PerAnalysisLimit: Limit(-1), MonthlyLimit: Limit(-1)},
	}
}

// fillTierLimits resolves omitted limits against DefaultTiers.
func fillTierLimits(tiers map[string]TierLimits) {
	defaults := DefaultTiers()
	for name, t := range tiers {
		def := defaults[strings.ToLower(name)]
		if t.PerAnalysisLimit == nil {
			t.PerAnalysisLimit = orUnlimited(def.PerAnalysisLimit)
		}
		if t.MonthlyLimit == nil {
			t.MonthlyLimit = orUnlimited(def.MonthlyLimit)
		}
		tiers[name] = t
	}
}

func orUnlimited(n *int) *int {
	if n == nil {
		return Limit(-1)
	}
	return Limit(*n)
}

func applyDefaults(cfg *Config) {
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "advisor.db"
	}
	if cfg.Database.Elasticsearch.AnalysisIndex == "" {
		cfg.Database.Elasticsearch.AnalysisIndex = "analyses"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":8080"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	if cfg.APIs.GenAI.Timeout == 0 {
		cfg.APIs.GenAI.Timeout = 60000
	}
	if cfg.APIs.GenAI.MaxTokens == 0 {
		cfg.APIs.GenAI.MaxTokens = 1024
	}
	if cfg.APIs.GenAI.Temperature == 0 {
		cfg.APIs.GenAI.Temperature = 0.7
	}
	if cfg.AWS.S3.URLTTL == 0 {
		cfg.AWS.S3.URLTTL = 3600
	}

	applyAdvisorDefaults(&cfg.Advisor)
}

func applyAdvisorDefaults(a *AdvisorConfig) {
	if a.Context.VerbatimThreshold == 0 {
		a.Context.VerbatimThreshold = 10
	}
	if a.Context.RecentMessages == 0 {
		a.Context.RecentMessages = 5
	}
	if a.Context.MaxMessageChars == 0 {
		a.Context.MaxMessageChars = 6000
	}
	if a.Context.MaxSummaryChars == 0 {
		a.Context.MaxSummaryChars = 1200
	}
	if a.Context.Summarizer == "" {
		a.Context.Summarizer = "heuristic"
	}

	if a.Quota.Backend == "" {
		a.Quota.Backend = "redis"
	}
	if a.Quota.DefaultTier == "" {
		a.Quota.DefaultTier = "free"
	}
	if len(a.Quota.Tiers) == 0 {
		a.Quota.Tiers = DefaultTiers()
	}
	fillTierLimits(a.Quota.Tiers)
	if a.Quota.SweepSchedule == "" {
		a.Quota.SweepSchedule = "0 3 * * *"
	}
	if a.Quota.TierCacheTTL == 0 {
		a.Quota.TierCacheTTL = 300
	}

	if a.Detector.Threshold == 0 {
		a.Detector.Threshold = 90
	}
	if a.Detector.ClassifierTimeout == 0 {
		a.Detector.ClassifierTimeout = 3000
	}

	if a.Turn.MaxMessageLength == 0 {
		a.Turn.MaxMessageLength = 4000
	}
	if a.Turn.BackendTimeout == 0 {
		a.Turn.BackendTimeout = 60000
	}
	if a.Turn.RetryBackoff == 0 {
		a.Turn.RetryBackoff = 500
	}
	if a.Turn.LockTTL == 0 {
		a.Turn.LockTTL = MinLockTTL(a.Turn)
	}

	if a.Export.Sink == "" {
		a.Export.Sink = "local"
	}
	if a.Export.LocalDir == "" {
		a.Export.LocalDir = "exports"
	}

	if a.Suggestions.Max == 0 {
		a.Suggestions.Max = 5
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	case "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required")
	}
	if cfg.Advisor.Quota.Backend == "redis" && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required for the redis quota backend")
	}
	if cfg.APIs.GenAI.BaseURL == "" {
		return fmt.Errorf("apis.genai.base_url is required")
	}

	if _, ok := cfg.Advisor.Quota.Tiers[cfg.Advisor.Quota.DefaultTier]; !ok {
		return fmt.Errorf("advisor.quota.default_tier %q has no limits", cfg.Advisor.Quota.DefaultTier)
	}
	if cfg.Advisor.Context.RecentMessages > cfg.Advisor.Context.VerbatimThreshold {
		return fmt.Errorf("advisor.context.recent_messages must not exceed verbatim_threshold")
	}
	if min := MinLockTTL(cfg.Advisor.Turn); cfg.Advisor.Turn.LockTTL < min {
		return fmt.Errorf("advisor.turn.lock_ttl must be at least %dms for backend_timeout %dms", min, cfg.Advisor.Turn.BackendTimeout)
	}
	if t := cfg.Advisor.Detector.Threshold; t < 0 || t > 100 {
		return fmt.Errorf("advisor.detector.threshold must be within 0-100")
	}
	switch cfg.Advisor.Export.Sink {
	case "local":
	case "s3":
		if cfg.AWS.S3.Bucket == "" {
			return fmt.Errorf("aws.s3.bucket is required for the s3 export sink")
		}
	default:
		return fmt.Errorf("advisor.export.sink %q is not supported", cfg.Advisor.Export.Sink)
	}

	return nil
}

// MinLockTTL is the shortest turn lock in milliseconds that outlasts a turn
// with one retry: a summarization call, two generation attempts, the backoff
// between them and a tenth of slack.
func MinLockTTL(t TurnConfig) int {
	d := 3*t.BackendTimeout + t.RetryBackoff
	return d + d/10
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
