package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
database:
  driver: sqlite
  elasticsearch:
    addresses:
      - ${TEST_ES_URL}
  redis:
    address: localhost:6379
apis:
  genai:
    base_url: http://genai.local
`

func TestLoadFromFile_Defaults(t *testing.T) {
	t.Setenv("TEST_ES_URL", "http://es.local:9200")

	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"http://es.local:9200"}, cfg.Database.Elasticsearch.Addresses)
	assert.Equal(t, "analyses", cfg.Database.Elasticsearch.AnalysisIndex)

	assert.Equal(t, 10, cfg.Advisor.Context.VerbatimThreshold)
	assert.Equal(t, 5, cfg.Advisor.Context.RecentMessages)
	assert.Equal(t, "heuristic", cfg.Advisor.Context.Summarizer)
	assert.Equal(t, 90, cfg.Advisor.Detector.Threshold)
	assert.Equal(t, "free", cfg.Advisor.Quota.DefaultTier)
	assert.Equal(t, TierLimits{PerAnalysisLimit: Limit(5), MonthlyLimit: Limit(-1)}, cfg.Advisor.Quota.Tiers["free"])
	assert.Equal(t, -1, *cfg.Advisor.Quota.Tiers["pro"].PerAnalysisLimit)
	assert.Equal(t, 4000, cfg.Advisor.Turn.MaxMessageLength)
	assert.Equal(t, 198550, cfg.Advisor.Turn.LockTTL)
	assert.Equal(t, "local", cfg.Advisor.Export.Sink)
}

func TestLoadFromFile_TierOverrides(t *testing.T) {
	body := minimalConfig + `
advisor:
  quota:
    default_tier: starter
    tiers:
      starter:
        per_analysis_limit: 3
        monthly_limit: 20
`
	t.Setenv("TEST_ES_URL", "http://es.local:9200")

	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, TierLimits{PerAnalysisLimit: Limit(3), MonthlyLimit: Limit(20)}, cfg.Advisor.Quota.Tiers["starter"])
	_, hasFree := cfg.Advisor.Quota.Tiers["free"]
	assert.False(t, hasFree)
}

func TestLoadFromFile_TierLimitSemantics(t *testing.T) {
	body := minimalConfig + `
advisor:
  quota:
    tiers:
      free:
        monthly_limit: 0
      pro:
        per_analysis_limit: 50
      suspended:
        per_analysis_limit: 0
        monthly_limit: 0
      trial: {}
`
	t.Setenv("TEST_ES_URL", "http://es.local:9200")

	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)
	tiers := cfg.Advisor.Quota.Tiers

	tests := []struct {
		tier        string
		perAnalysis int
		monthly     int
	}{
		{"free", 5, 0},
		{"pro", 50, -1},
		{"suspended", 0, 0},
		{"trial", -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			require.Contains(t, tiers, tt.tier)
			require.NotNil(t, tiers[tt.tier].PerAnalysisLimit)
			require.NotNil(t, tiers[tt.tier].MonthlyLimit)
			assert.Equal(t, tt.perAnalysis, *tiers[tt.tier].PerAnalysisLimit)
			assert.Equal(t, tt.monthly, *tiers[tt.tier].MonthlyLimit)
		})
	}
}

func TestLoadFromFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			body:    "database:\n  driver: mysql\n",
			wantErr: "database.driver",
		},
		{
			name: "postgres without host",
			body: `
database:
  driver: postgres
  elasticsearch:
    addresses: [http://es]
apis:
  genai:
    base_url: http://genai
`,
			wantErr: "database.postgres.host",
		},
		{
			name: "s3 sink without bucket",
			body: minimalConfig + `
advisor:
  export:
    sink: s3
`,
			wantErr: "aws.s3.bucket",
		},
		{
			name: "recent window larger than threshold",
			body: minimalConfig + `
advisor:
  context:
    verbatim_threshold: 4
    recent_messages: 6
`,
			wantErr: "recent_messages",
		},
		{
			name: "lock expires before a slow turn",
			body: minimalConfig + `
advisor:
  turn:
    backend_timeout: 60000
    lock_ttl: 120000
`,
			wantErr: "advisor.turn.lock_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ES_URL", "http://es.local:9200")
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMinLockTTL(t *testing.T) {
	tests := []struct {
		name string
		turn TurnConfig
		want int
	}{
		{"defaults", TurnConfig{BackendTimeout: 60000, RetryBackoff: 500}, 198550},
		{"scaled down", TurnConfig{BackendTimeout: 60, RetryBackoff: 0}, 198},
		{"long backend", TurnConfig{BackendTimeout: 120000, RetryBackoff: 1000}, 397100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MinLockTTL(tt.turn))
			assert.Greater(t, MinLockTTL(tt.turn), 2*tt.turn.BackendTimeout+tt.turn.RetryBackoff)
		})
	}
}

func TestGetWorkerConfig(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"submit-turn": {Enabled: false, MaxJobsActive: 2},
	}}

	assert.False(t, IsWorkerEnabled(cfg, "submit-turn"))
	assert.True(t, IsWorkerEnabled(cfg, "export-conversation"))
	assert.Equal(t, 2, GetWorkerConfig(cfg, "submit-turn").MaxJobsActive)
	assert.Equal(t, 30000, GetWorkerConfig(cfg, "unknown").Timeout)
}
