package models

import "time"

// Analysis is the market-gap report a conversation is anchored to. The advisor
// only reads it; new analyses come from the generation pipeline.
type Analysis struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Title          string            `json:"title"`
	Score          float64           `json:"score"`
	Summary        string            `json:"summary,omitempty"`
	Gaps           []Gap             `json:"gaps,omitempty"`
	Competitors    []Competitor      `json:"competitors,omitempty"`
	ActionPlan     []string          `json:"actionPlan,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	BaseAnalysisID string            `json:"baseAnalysisId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

type Gap struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Opportunity float64 `json:"opportunity,omitempty"`
}

type Competitor struct {
	Name     string `json:"name"`
	Weakness string `json:"weakness,omitempty"`
}

// Well-known analysis parameters the variant detector can modify.
const (
	ParamMarket   = "market"
	ParamBudget   = "budget"
	ParamAudience = "audience"
	ParamIndustry = "industry"
)

// MergeParameters returns base overlaid with changes; neither input is modified.
func MergeParameters(base, changes map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}
