// Package quota decides whether a user may ask another question and keeps
// per-bucket usage counters.
package quota

import (
	"fmt"
	"strings"
	"time"

	"gap-advisor/internal/common/config"
	"gap-advisor/internal/models"
)

// Policies maps tier names to their limits.
type Policies map[string]models.TierPolicy

// PoliciesFromConfig converts configured tier limits. Zero blocks the tier;
// a negative or unset limit is no cap.
func PoliciesFromConfig(tiers map[string]config.TierLimits) Policies {
	out := make(Policies, len(tiers))
	for name, t := range tiers {
		out[strings.ToLower(name)] = models.TierPolicy{
			PerAnalysisLimit: normalizeLimit(t.PerAnalysisLimit),
			MonthlyLimit:     normalizeLimit(t.MonthlyLimit),
		}
	}
	return out
}

func normalizeLimit(n *int) int {
	if n == nil || *n < 0 {
		return models.Unlimited
	}
	return *n
}

const keyPrefix = "quota:"

// AnalysisKey is the per-analysis bucket; it never resets. The braces are a
// Redis hash tag so all of a user's buckets share a cluster slot.
func AnalysisKey(userID, analysisID string) string {
	return fmt.Sprintf("%s{%s}:analysis:%s", keyPrefix, userID, analysisID)
}

// MonthKey is the calendar-month bucket for t (UTC).
func MonthKey(userID string, t time.Time) string {
	return fmt.Sprintf("%s{%s}:month:%s", keyPrefix, userID, Period(t))
}

// Period formats t as YYYY-MM in UTC.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// periodOf extracts the YYYY-MM suffix from a monthly bucket key.
func periodOf(key string) (string, bool) {
	i := strings.LastIndex(key, ":month:")
	if !strings.HasPrefix(key, keyPrefix) || i < 0 {
		return "", false
	}
	return key[i+len(":month:"):], true
}

// monthTTL keeps a monthly bucket until a day after its period ends.
func monthTTL(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now) + 24*time.Hour
}
