package quota

import (
	"context"
	"strconv"
	"strings"
	"time"

	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/metrics"
	"gap-advisor/internal/models"
)

// Enforcer applies tier policies to usage counters. Admission reserves a slot
// atomically; callers release it when the turn produces no answer.
type Enforcer struct {
	counter     Counter
	policies    Policies
	defaultTier string
	notifier    Notifier
	now         func() time.Time
	logger      logger.Logger
}

type Options struct {
	DefaultTier string
	Notifier    Notifier
	Now         func() time.Time
}

func NewEnforcer(counter Counter, policies Policies, opts Options, log logger.Logger) *Enforcer {
	if opts.DefaultTier == "" {
		opts.DefaultTier = "free"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Enforcer{
		counter:     counter,
		policies:    policies,
		defaultTier: strings.ToLower(opts.DefaultTier),
		notifier:    opts.Notifier,
		now:         opts.Now,
		logger:      log.WithFields(map[string]interface{}{"component": "quota-enforcer"}),
	}
}

// Policy resolves a tier, falling back to the default tier for unknown names.
func (e *Enforcer) Policy(tier string) (string, models.TierPolicy) {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if p, ok := e.policies[tier]; ok {
		return tier, p
	}
	return e.defaultTier, e.policies[e.defaultTier]
}

func (e *Enforcer) buckets(userID, tier, analysisID string) []Bucket {
	_, policy := e.Policy(tier)
	now := e.now()
	return []Bucket{
		{Key: AnalysisKey(userID, analysisID), Limit: policy.PerAnalysisLimit},
		{Key: MonthKey(userID, now), Limit: policy.MonthlyLimit, TTL: monthTTL(now)},
	}
}

func unlimited(buckets []Bucket) bool {
	for _, b := range buckets {
		if b.Limit >= 0 {
			return false
		}
	}
	return true
}

// binding returns the index of the capped bucket with the least headroom.
func binding(buckets []Bucket, used []int64) int {
	best := -1
	var bestLeft int64
	for i, b := range buckets {
		if b.Limit < 0 {
			continue
		}
		left := int64(b.Limit) - used[i]
		if best < 0 || left < bestLeft {
			best, bestLeft = i, left
		}
	}
	return best
}

func (e *Enforcer) usage(ctx context.Context, buckets []Bucket) ([]int64, error) {
	used := make([]int64, len(buckets))
	for i, b := range buckets {
		n, err := e.counter.Get(ctx, b.Key)
		if err != nil {
			return nil, apperrors.NewQuotaCheckFailedError(err)
		}
		used[i] = n
	}
	return used, nil
}

// CheckLimit reports whether one more question may be asked without
// changing usage. Remaining counts the questions left after this one.
func (e *Enforcer) CheckLimit(ctx context.Context, userID, tier, analysisID string) (models.QuotaDecision, error) {
	buckets := e.buckets(userID, tier, analysisID)
	if unlimited(buckets) {
		return models.QuotaDecision{Allowed: true, Remaining: models.Unlimited, Limit: models.Unlimited}, nil
	}

	used, err := e.usage(ctx, buckets)
	if err != nil {
		return models.QuotaDecision{}, err
	}

	i := binding(buckets, used)
	limit := buckets[i].Limit
	if used[i] >= int64(limit) {
		return models.QuotaDecision{Allowed: false, Remaining: 0, Limit: limit}, nil
	}
	return models.QuotaDecision{Allowed: true, Remaining: int(int64(limit) - used[i] - 1), Limit: limit}, nil
}

// Admit atomically checks and consumes one question. A denial returns the
// decision together with a QUOTA_EXCEEDED error.
func (e *Enforcer) Admit(ctx context.Context, userID, tier, analysisID string) (models.QuotaDecision, error) {
	resolved, _ := e.Policy(tier)
	buckets := e.buckets(userID, tier, analysisID)

	ok, used, err := e.counter.Reserve(ctx, buckets)
	if err != nil {
		return models.QuotaDecision{}, apperrors.NewQuotaCheckFailedError(err)
	}
	metrics.QuotaDecisions.WithLabelValues(resolved, strconv.FormatBool(ok)).Inc()

	if unlimited(buckets) {
		return models.QuotaDecision{Allowed: true, Remaining: models.Unlimited, Limit: models.Unlimited}, nil
	}

	i := binding(buckets, used)
	limit := buckets[i].Limit
	if !ok {
		e.logger.Info("question denied by quota", map[string]interface{}{
			"userId":     userID,
			"analysisId": analysisID,
			"tier":       resolved,
			"bucket":     buckets[i].Key,
			"limit":      limit,
		})
		e.notify(ctx, Event{
			Type:       EventQuotaExhausted,
			UserID:     userID,
			AnalysisID: analysisID,
			Tier:       resolved,
			Bucket:     buckets[i].Key,
			Limit:      limit,
			At:         e.now().UTC(),
		})
		return models.QuotaDecision{Allowed: false, Remaining: 0, Limit: limit}, apperrors.NewQuotaExceededError(limit)
	}

	remaining := int64(limit) - used[i]
	if remaining < 0 {
		remaining = 0
	}
	return models.QuotaDecision{Allowed: true, Remaining: int(remaining), Limit: limit}, nil
}

// Consume records one question without checking limits. Callers gate on
// CheckLimit first; Admit is the atomic alternative.
func (e *Enforcer) Consume(ctx context.Context, userID, tier, analysisID string) error {
	if err := e.counter.Increment(ctx, e.buckets(userID, tier, analysisID)); err != nil {
		return apperrors.NewQuotaCheckFailedError(err)
	}
	return nil
}

// Release refunds a question admitted by Admit whose turn produced no answer.
func (e *Enforcer) Release(ctx context.Context, userID, tier, analysisID string) error {
	buckets := e.buckets(userID, tier, analysisID)
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = b.Key
	}
	if err := e.counter.Decrement(ctx, keys); err != nil {
		return apperrors.NewQuotaCheckFailedError(err)
	}
	return nil
}

// GetRemainingQuestions is the read-only projection for display.
func (e *Enforcer) GetRemainingQuestions(ctx context.Context, userID, analysisID, tier string) (models.QuotaStatus, error) {
	buckets := e.buckets(userID, tier, analysisID)
	if unlimited(buckets) {
		return models.QuotaStatus{Remaining: models.Unlimited, Limit: models.Unlimited, Unlimited: true}, nil
	}

	used, err := e.usage(ctx, buckets)
	if err != nil {
		return models.QuotaStatus{}, err
	}
	i := binding(buckets, used)
	remaining := int64(buckets[i].Limit) - used[i]
	if remaining < 0 {
		remaining = 0
	}
	return models.QuotaStatus{Remaining: int(remaining), Limit: buckets[i].Limit}, nil
}

// Reset clears a user's per-analysis bucket and current monthly bucket.
func (e *Enforcer) Reset(ctx context.Context, userID, analysisID string) error {
	keys := []string{MonthKey(userID, e.now())}
	if analysisID != "" {
		keys = append(keys, AnalysisKey(userID, analysisID))
	}
	if err := e.counter.Delete(ctx, keys...); err != nil {
		return apperrors.NewQuotaCheckFailedError(err)
	}
	e.logger.Info("quota reset", map[string]interface{}{
		"userId":     userID,
		"analysisId": analysisID,
	})
	return nil
}

func (e *Enforcer) notify(ctx context.Context, ev Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Warn("quota notification failed", map[string]interface{}{
			"userId": ev.UserID,
			"error":  err.Error(),
		})
	}
}
