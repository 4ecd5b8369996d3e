// Package variant recognizes requests to re-run an analysis with different
// parameters and branches confirmed requests into linked conversations.
package variant

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/metrics"
	"gap-advisor/internal/models"
)

type Outcome string

const (
	// OutcomeReanalysis: confident enough to ask the user for confirmation.
	OutcomeReanalysis Outcome = "reanalysis"
	// OutcomeAmbiguous: some signal, below threshold. Handled as a question.
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeQuestion  Outcome = "question"
)

const (
	DefaultThreshold = 90
	ambiguousFloor   = 40

	triggerCap    = 60
	paramBonus    = 35
	changedBonus  = 20
	samePenalty   = 20
	classifierCut = 50
)

// Detection is a proposal only; nothing is persisted until the user confirms.
type Detection struct {
	IsReanalysisRequest bool              `json:"isReanalysisRequest"`
	Confidence          int               `json:"confidence"`
	ModifiedParameters  map[string]string `json:"modifiedParameters"`
	ConfirmationPrompt  string            `json:"confirmationPrompt,omitempty"`
	Outcome             Outcome           `json:"outcome"`
}

type Detector struct {
	lexicon    *Lexicon
	threshold  int
	classifier Classifier
	logger     logger.Logger
}

type DetectorOption func(*Detector)

func WithThreshold(t int) DetectorOption {
	return func(d *Detector) { d.threshold = t }
}

// WithClassifier consults c for messages in the ambiguous band.
func WithClassifier(c Classifier) DetectorOption {
	return func(d *Detector) { d.classifier = c }
}

func NewDetector(lex *Lexicon, log logger.Logger, opts ...DetectorOption) *Detector {
	d := &Detector{
		lexicon:   lex,
		threshold: DefaultThreshold,
		logger:    log.WithFields(map[string]interface{}{"component": "variant-detector"}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var budgetPattern = regexp.MustCompile(`(?i)\$\s?(\d[\d,]*(?:\.\d+)?)\s?(k|m|mm|thousand|million)?\b`)

// Propose scores message against the analysis it is asked about. It has no
// side effects.
func (d *Detector) Propose(ctx context.Context, message string, analysis *models.Analysis) Detection {
	var current map[string]string
	if analysis != nil {
		current = analysis.Parameters
	}

	score := 0
	for _, t := range d.lexicon.triggers {
		if t.re.MatchString(message) {
			score += t.weight
		}
	}
	if score > triggerCap {
		score = triggerCap
	}

	params := d.extract(message)
	if len(params) > 0 {
		score += paramBonus
		changed := false
		for k, v := range params {
			if !d.sameValue(k, v, current[k]) {
				changed = true
			}
		}
		if changed {
			score += changedBonus
		} else {
			score -= samePenalty
		}
	}
	score = clamp(score)

	if d.classifier != nil && score >= ambiguousFloor && score < d.threshold {
		score, params = d.consult(ctx, message, analysis, score, params)
	}

	det := Detection{
		Confidence:         score,
		ModifiedParameters: params,
		Outcome:            OutcomeQuestion,
	}
	switch {
	case score >= d.threshold && len(params) > 0:
		det.IsReanalysisRequest = true
		det.Outcome = OutcomeReanalysis
		det.ConfirmationPrompt = ConfirmationPrompt(params)
	case score >= ambiguousFloor:
		det.Outcome = OutcomeAmbiguous
	}

	metrics.VariantProposals.WithLabelValues(string(det.Outcome)).Inc()
	d.logger.Debug("variant intent scored", map[string]interface{}{
		"confidence": det.Confidence,
		"outcome":    det.Outcome,
		"params":     len(params),
	})
	return det
}

func (d *Detector) extract(message string) map[string]string {
	params := map[string]string{}

	if market, ok := d.newMarket(message); ok {
		params[models.ParamMarket] = market
	}
	if m := budgetPattern.FindStringSubmatch(message); m != nil {
		params[models.ParamBudget] = normalizeBudget(m[1], m[2])
	}
	if a := find(d.lexicon.audience, message); len(a) > 0 {
		params[models.ParamAudience] = a[0].name
	}
	if i := find(d.lexicon.industry, message); len(i) > 0 {
		params[models.ParamIndustry] = i[0].name
	}

	if len(params) == 0 {
		return nil
	}
	return params
}

// newMarket returns the first market mentioned that is not marked as the one
// being replaced ("instead of the US").
func (d *Detector) newMarket(message string) (string, bool) {
	for _, m := range find(d.lexicon.markets, message) {
		if !d.replaced(message[:m.start]) {
			return m.name, true
		}
	}
	return "", false
}

func (d *Detector) replaced(before string) bool {
	before = strings.ToLower(strings.TrimSpace(before))
	if before == "the" || strings.HasSuffix(before, " the") {
		before = strings.TrimSpace(strings.TrimSuffix(before, "the"))
	}
	for _, marker := range d.lexicon.ReplacedMarkers {
		if strings.HasSuffix(before, marker) {
			head := strings.TrimSuffix(before, marker)
			if head == "" || !isWordChar(head, len(head)-1) {
				return true
			}
		}
	}
	return false
}

func (d *Detector) sameValue(key, proposed, current string) bool {
	if current == "" {
		return false
	}
	switch key {
	case models.ParamMarket:
		current = canonical(d.lexicon.markets, current)
	case models.ParamAudience:
		current = canonical(d.lexicon.audience, current)
	case models.ParamIndustry:
		current = canonical(d.lexicon.industry, current)
	case models.ParamBudget:
		if m := budgetPattern.FindStringSubmatch(current); m != nil {
			current = normalizeBudget(m[1], m[2])
		}
	}
	return strings.EqualFold(strings.TrimSpace(proposed), strings.TrimSpace(current))
}

func (d *Detector) consult(ctx context.Context, message string, analysis *models.Analysis, score int, params map[string]string) (int, map[string]string) {
	res, err := d.classifier.Classify(ctx, message, analysis)
	if err != nil {
		d.logger.Warn("intent classifier unavailable", map[string]interface{}{"error": err.Error()})
		return score, params
	}
	if !res.Reanalysis || res.Confidence < classifierCut {
		return score, params
	}

	merged := map[string]string{}
	for k, v := range res.Parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	if res.Confidence > score {
		score = res.Confidence
	}
	return clamp(score), merged
}

// ConfirmationPrompt asks the user to approve re-running the analysis with
// params.
func ConfirmationPrompt(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := make([]string, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, fmt.Sprintf("%s: %s", k, params[k]))
	}
	return fmt.Sprintf("It sounds like you want to re-run the analysis with %s. "+
		"Shall I create a new analysis? It will open as a separate conversation linked to this one.",
		strings.Join(changes, ", "))
}

func normalizeBudget(amount, unit string) string {
	unit = strings.ToLower(unit)
	switch unit {
	case "thousand":
		unit = "k"
	case "million", "mm":
		unit = "m"
	}
	return "$" + amount + unit
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
