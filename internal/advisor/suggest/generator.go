// Package suggest proposes follow-up questions from an analysis and the
// recent conversation.
package suggest

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"gap-advisor/internal/models"
)

const DefaultMax = 5

const (
	CategoryGap         = "gap"
	CategoryCompetition = "competition"
	CategoryAction      = "action"
	CategoryScore       = "score"
	CategoryVariant     = "variant"
	CategoryGeneral     = "general"
)

type Generator struct {
	max int
}

func NewGenerator(max int) *Generator {
	if max <= 0 {
		max = DefaultMax
	}
	return &Generator{max: max}
}

// Suggest returns at most max questions, highest priority first. Questions
// the user already asked in recent are skipped.
func (g *Generator) Suggest(analysis *models.Analysis, recent []models.Message) []models.SuggestedQuestion {
	asked := make(map[string]bool, len(recent))
	for _, m := range recent {
		if m.Role == models.RoleUser {
			asked[normalize(m.Content)] = true
		}
	}

	out := make([]models.SuggestedQuestion, 0, g.max)
	for _, c := range candidates(analysis) {
		key := normalize(c.Text)
		if asked[key] {
			continue
		}
		asked[key] = true
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if len(out) > g.max {
		out = out[:g.max]
	}
	return out
}

func candidates(a *models.Analysis) []models.SuggestedQuestion {
	var qs []models.SuggestedQuestion
	add := func(category string, priority int, format string, args ...interface{}) {
		qs = append(qs, models.SuggestedQuestion{
			Text:     fmt.Sprintf(format, args...),
			Category: category,
			Priority: priority,
		})
	}

	if a != nil {
		gaps := append([]models.Gap(nil), a.Gaps...)
		sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].Opportunity > gaps[j].Opportunity })
		for i, gap := range gaps {
			if i == 3 {
				break
			}
			add(CategoryGap, 90-5*i, "How can I validate demand for %s?", lowerFirst(gap.Title))
		}

		for i, c := range a.Competitors {
			if i == 2 {
				break
			}
			if c.Weakness != "" {
				add(CategoryCompetition, 75-5*i, "How can I beat %s on %s?", c.Name, c.Weakness)
			} else {
				add(CategoryCompetition, 75-5*i, "What would set me apart from %s?", c.Name)
			}
		}

		if len(a.ActionPlan) > 0 {
			add(CategoryAction, 65, "What do I need to get started with: %s?", strings.TrimRight(lowerFirst(a.ActionPlan[0]), "."))
		}

		switch score := int(a.Score); {
		case score < 50:
			add(CategoryScore, 88, "What is holding this idea at a score of %d?", score)
		case score < 75:
			add(CategoryScore, 70, "What would raise the score above %d?", score)
		default:
			add(CategoryScore, 55, "What could still make this idea fail?")
		}

		if market := a.Parameters[models.ParamMarket]; market != "" {
			add(CategoryVariant, 50, "What if I targeted a market other than %s?", market)
		} else {
			add(CategoryVariant, 40, "What if I targeted a different market?")
		}
		if budget := a.Parameters[models.ParamBudget]; budget != "" {
			add(CategoryVariant, 45, "How would the plan change with a budget above %s?", budget)
		}
	}

	add(CategoryGeneral, 30, "Who is the ideal first customer for this idea?")
	add(CategoryGeneral, 25, "What should I measure in the first 90 days?")
	return qs
}

// normalize folds case, punctuation and spacing so near-identical phrasings
// compare equal.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

func lowerFirst(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	if len(r) > 1 && unicode.IsUpper(r[1]) {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
