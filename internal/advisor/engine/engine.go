// Package engine orchestrates conversation turns: quota admission, prompt
// building, generation, persistence, variant detection and suggestions.
package engine

import (
	"context"
	"time"

	"gap-advisor/internal/advisor/export"
	"gap-advisor/internal/advisor/store"
	"gap-advisor/internal/advisor/variant"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBackendTimeout    = 60 * time.Second
	DefaultRetryBackoff      = 500 * time.Millisecond
	DefaultSuggestionHistory = 6
)

type AnalysisProvider interface {
	GetAnalysis(ctx context.Context, analysisID string) (*models.Analysis, error)
}

type TierProvider interface {
	GetTier(ctx context.Context, userID string) (string, error)
}

type QuotaEnforcer interface {
	Admit(ctx context.Context, userID, tier, analysisID string) (models.QuotaDecision, error)
	Release(ctx context.Context, userID, tier, analysisID string) error
	GetRemainingQuestions(ctx context.Context, userID, analysisID, tier string) (models.QuotaStatus, error)
}

type ContextBuilder interface {
	Build(ctx context.Context, analysis *models.Analysis, history []models.Message, query string) (*models.PromptPackage, error)
}

type Backend interface {
	Generate(ctx context.Context, pkg *models.PromptPackage) (*models.Completion, error)
}

type Proposer interface {
	Propose(ctx context.Context, message string, analysis *models.Analysis) variant.Detection
}

type Brancher interface {
	ConfirmAndBranch(ctx context.Context, conversationID, userID string, params map[string]string) (*variant.BranchResult, error)
}

type Suggester interface {
	Suggest(analysis *models.Analysis, recent []models.Message) []models.SuggestedQuestion
}

type Exporter interface {
	Export(ctx context.Context, conversationID string, format export.Format, opts export.Options) (*export.Result, error)
}

// Deps are the collaborators of an Engine. Tracer may be nil.
type Deps struct {
	Store     store.Store
	Analyses  AnalysisProvider
	Tiers     TierProvider
	Quota     QuotaEnforcer
	Context   ContextBuilder
	Backend   Backend
	Detector  Proposer
	Brancher  Brancher
	Suggester Suggester
	Exporter  Exporter
	Lock      TurnLock
	Tracer    trace.Tracer
}

type Options struct {
	BackendTimeout time.Duration
	RetryBackoff   time.Duration
	// MaxRetries counts extra generation attempts after a retryable failure.
	// Zero means one retry; negative disables retrying.
	MaxRetries int
	// LockTTL is raised to MinLockTTL when shorter, so a slow turn cannot
	// outlive its lock.
	LockTTL           time.Duration
	MaxMessageLength  int
	SuggestionHistory int
}

func (o Options) withDefaults() Options {
	if o.BackendTimeout <= 0 {
		o.BackendTimeout = DefaultBackendTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = 1
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = store.DefaultMaxMessageLength
	}
	if min := o.MinLockTTL(); o.LockTTL < min {
		o.LockTTL = min
	}
	if o.SuggestionHistory <= 0 {
		o.SuggestionHistory = DefaultSuggestionHistory
	}
	return o
}

// MinLockTTL is the longest a turn can run: one summarization call plus
// every generation attempt at BackendTimeout each, the backoffs between
// attempts, and a tenth on top for storage and intent detection.
func (o Options) MinLockTTL() time.Duration {
	d := time.Duration(o.MaxRetries+2) * o.BackendTimeout
	for attempt := 1; attempt <= o.MaxRetries; attempt++ {
		d += o.RetryBackoff << (attempt - 1)
	}
	return d + d/10
}

type Engine struct {
	Deps
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
	logger logger.Logger
}

func New(deps Deps, opts Options, log logger.Logger) *Engine {
	if deps.Lock == nil {
		deps.Lock = NewMemoryTurnLock()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("gap-advisor/engine")
	}
	e := &Engine{
		Deps:   deps,
		opts:   opts.withDefaults(),
		sleep:  sleepContext,
		logger: log.WithFields(map[string]interface{}{"component": "engine"}),
	}
	if opts.LockTTL > 0 && opts.LockTTL < e.opts.LockTTL {
		e.logger.Warn("turn lock ttl raised to cover the slowest turn", map[string]interface{}{
			"configuredMs": opts.LockTTL.Milliseconds(),
			"effectiveMs":  e.opts.LockTTL.Milliseconds(),
		})
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
