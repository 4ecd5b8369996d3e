// Package tier resolves a user's subscription tier for quota enforcement.
package tier

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 5 * time.Minute

const subscriptionQuery = `SELECT user_id, tier, expires_at, is_valid FROM user_subscriptions WHERE user_id = $1`

type Options struct {
	DefaultTier string
	// KnownTiers limits which stored tiers are honoured; anything else
	// resolves to DefaultTier. Empty accepts every tier.
	KnownTiers []string
	CacheTTL   time.Duration
	Now        func() time.Time
}

// Provider looks the tier up in user_subscriptions, caching the resolved tier
// in Redis. Missing, invalid and expired subscriptions resolve to the default
// tier.
type Provider struct {
	db     *sql.DB
	redis  *redis.Client
	opts   Options
	known  map[string]bool
	logger logger.Logger
}

// NewProvider creates a provider. rdb may be nil to disable caching.
func NewProvider(db *sql.DB, rdb *redis.Client, opts Options, log logger.Logger) *Provider {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	known := make(map[string]bool, len(opts.KnownTiers))
	for _, t := range opts.KnownTiers {
		known[t] = true
	}
	return &Provider{
		db:     db,
		redis:  rdb,
		opts:   opts,
		known:  known,
		logger: log.WithFields(map[string]interface{}{"component": "tier-provider"}),
	}
}

func CacheKey(userID string) string {
	return "tier:" + userID
}

type subscription struct {
	UserID    string
	Tier      string
	ExpiresAt sql.NullString
	IsValid   bool
}

func (p *Provider) GetTier(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", apperrors.NewInvalidInputError("userId is required")
	}

	key := CacheKey(userID)
	if p.redis != nil {
		cached, err := p.redis.Get(ctx, key).Result()
		switch {
		case err == nil && cached != "":
			return cached, nil
		case err != nil && !errors.Is(err, redis.Nil):
			p.logger.Warn("tier cache read failed", map[string]interface{}{"userId": userID, "error": err.Error()})
		}
	}

	var sub subscription
	err := p.db.QueryRowContext(ctx, subscriptionQuery, userID).Scan(&sub.UserID, &sub.Tier, &sub.ExpiresAt, &sub.IsValid)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.NewQuotaCheckFailedError(err)
	}

	resolved := p.resolve(userID, &sub, err == nil)

	if p.redis != nil {
		if err := p.redis.Set(ctx, key, resolved, p.opts.CacheTTL).Err(); err != nil {
			p.logger.Warn("tier cache write failed", map[string]interface{}{"userId": userID, "error": err.Error()})
		}
	}
	return resolved, nil
}

// Invalidate drops the cached tier so the next lookup hits the database.
func (p *Provider) Invalidate(ctx context.Context, userID string) error {
	if p.redis == nil {
		return nil
	}
	return p.redis.Del(ctx, CacheKey(userID)).Err()
}

func (p *Provider) resolve(userID string, sub *subscription, found bool) string {
	if !found || !sub.IsValid || sub.Tier == "" {
		return p.opts.DefaultTier
	}
	if len(p.known) > 0 && !p.known[sub.Tier] {
		p.logger.Warn("unknown subscription tier", map[string]interface{}{"userId": userID, "tier": sub.Tier})
		return p.opts.DefaultTier
	}
	if sub.ExpiresAt.Valid && sub.ExpiresAt.String != "" {
		exp, err := time.Parse(time.RFC3339, sub.ExpiresAt.String)
		if err != nil {
			p.logger.Debug("unparseable subscription expiry ignored", map[string]interface{}{
				"userId":    userID,
				"expiresAt": sub.ExpiresAt.String,
			})
		} else if p.opts.Now().After(exp) {
			return p.opts.DefaultTier
		}
	}
	return sub.Tier
}

// Static always returns the same tier. Used when no subscription database is
// configured.
type Static string

func (s Static) GetTier(context.Context, string) (string, error) {
	return string(s), nil
}
