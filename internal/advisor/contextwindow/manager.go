// Package contextwindow turns an analysis, its conversation history and a new
// question into a token-bounded prompt.
package contextwindow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"
)

const (
	DefaultVerbatimThreshold = 10
	DefaultRecentMessages    = 5
	DefaultMaxMessageChars   = 6000
	DefaultMaxSummaryChars   = 1200

	TruncationMarker = "… [truncated]"
)

const defaultSystemPrompt = `You are a market-gap advisor. Answer the user's question using the analysis below and the conversation so far.
- Ground every claim in the analysis; say so when the data is insufficient
- Keep answers concise and actionable
- If the user wants different parameters (market, budget, audience), suggest re-running the analysis`

type Options struct {
	VerbatimThreshold int
	RecentMessages    int
	MaxMessageChars   int
	MaxSummaryChars   int
	SystemPrompt      string
}

func (o Options) withDefaults() Options {
	if o.VerbatimThreshold <= 0 {
		o.VerbatimThreshold = DefaultVerbatimThreshold
	}
	if o.RecentMessages <= 0 {
		o.RecentMessages = DefaultRecentMessages
	}
	if o.RecentMessages > o.VerbatimThreshold {
		o.RecentMessages = o.VerbatimThreshold
	}
	if o.MaxMessageChars <= 0 {
		o.MaxMessageChars = DefaultMaxMessageChars
	}
	if o.MaxSummaryChars <= 0 {
		o.MaxSummaryChars = DefaultMaxSummaryChars
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = defaultSystemPrompt
	}
	return o
}

// Manager builds prompt packages. It never writes to the conversation store.
type Manager struct {
	opts       Options
	summarizer Summarizer
	fallback   Summarizer
	logger     logger.Logger
}

func NewManager(opts Options, summarizer Summarizer, log logger.Logger) *Manager {
	if summarizer == nil {
		summarizer = HeuristicSummarizer{}
	}
	return &Manager{
		opts:       opts.withDefaults(),
		summarizer: summarizer,
		fallback:   HeuristicSummarizer{},
		logger:     log.WithFields(map[string]interface{}{"component": "context-window"}),
	}
}

// Build returns the prompt for query. Up to VerbatimThreshold messages are
// included verbatim; beyond that everything but the last RecentMessages is
// replaced by a digest.
func (m *Manager) Build(ctx context.Context, analysis *models.Analysis, history []models.Message, query string) (*models.PromptPackage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pkg := &models.PromptPackage{
		SystemPrompt:    m.opts.SystemPrompt,
		AnalysisContext: FormatAnalysis(analysis),
		CurrentQuery:    Truncate(query, m.opts.MaxMessageChars),
	}

	if len(history) <= m.opts.VerbatimThreshold {
		pkg.ConversationHistory = m.formatHistory(history)
		pkg.VerbatimCount = len(history)
	} else {
		split := len(history) - m.opts.RecentMessages
		older, recent := history[:split], history[split:]

		digest, err := m.summarize(ctx, older)
		if err != nil {
			return nil, err
		}

		var b strings.Builder
		b.WriteString("Summary: ")
		b.WriteString(digest)
		b.WriteString("\n\nRecent messages:\n")
		b.WriteString(m.formatHistory(recent))

		pkg.ConversationHistory = b.String()
		pkg.Summarized = true
		pkg.SummarizedCount = len(older)
		pkg.VerbatimCount = len(recent)
	}

	pkg.TotalTokens = EstimateTokens(pkg.SystemPrompt) +
		EstimateTokens(pkg.AnalysisContext) +
		EstimateTokens(pkg.ConversationHistory) +
		EstimateTokens(pkg.CurrentQuery)

	m.logger.Debug("prompt built", map[string]interface{}{
		"messages":        len(history),
		"summarized":      pkg.Summarized,
		"summarizedCount": pkg.SummarizedCount,
		"totalTokens":     pkg.TotalTokens,
	})
	return pkg, nil
}

func (m *Manager) summarize(ctx context.Context, older []models.Message) (string, error) {
	digest, err := m.summarizer.Summarize(ctx, older, m.opts.MaxSummaryChars)
	if err == nil && strings.TrimSpace(digest) != "" {
		return Clip(digest, m.opts.MaxSummaryChars), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	m.logger.Warn("summarizer failed, using heuristic digest", map[string]interface{}{
		"error": fmt.Sprint(err),
	})
	return m.fallback.Summarize(ctx, older, m.opts.MaxSummaryChars)
}

func (m *Manager) formatHistory(msgs []models.Message) string {
	return FormatHistory(msgs, m.opts.MaxMessageChars)
}

// FormatHistory renders messages as "role: content" lines, oldest first.
func FormatHistory(msgs []models.Message, maxMessageChars int) string {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, Truncate(msg.Content, maxMessageChars)))
	}
	return strings.Join(lines, "\n")
}

// FormatAnalysis renders the analysis as a compact context block. Its size
// depends only on the analysis.
func FormatAnalysis(a *models.Analysis) string {
	if a == nil {
		return ""
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Analysis: %s", a.Title))
	parts = append(parts, fmt.Sprintf("Opportunity score: %.0f/100", a.Score))
	if a.Summary != "" {
		parts = append(parts, fmt.Sprintf("Summary: %s", a.Summary))
	}

	if len(a.Parameters) > 0 {
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+a.Parameters[k])
		}
		parts = append(parts, "Parameters: "+strings.Join(pairs, ", "))
	}

	if len(a.Gaps) > 0 {
		parts = append(parts, "Gaps:")
		for i, g := range a.Gaps {
			line := fmt.Sprintf("%d. %s", i+1, g.Title)
			if g.Description != "" {
				line += ": " + g.Description
			}
			if g.Opportunity > 0 {
				line += fmt.Sprintf(" (opportunity %.0f)", g.Opportunity)
			}
			parts = append(parts, line)
		}
	}

	if len(a.Competitors) > 0 {
		parts = append(parts, "Competitors:")
		for _, c := range a.Competitors {
			line := "- " + c.Name
			if c.Weakness != "" {
				line += ": weak on " + c.Weakness
			}
			parts = append(parts, line)
		}
	}

	if len(a.ActionPlan) > 0 {
		parts = append(parts, "Action plan:")
		for i, step := range a.ActionPlan {
			parts = append(parts, fmt.Sprintf("%d. %s", i+1, step))
		}
	}

	return strings.Join(parts, "\n")
}

// EstimateTokens approximates the token count as ceil(chars/4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// Truncate cuts s to maxChars runes and appends TruncationMarker when
// anything was removed.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	r := []rune(s)
	return string(r[:maxChars]) + TruncationMarker
}

// Clip shortens s to at most maxChars runes, ending with an ellipsis when cut.
func Clip(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	if maxChars == 1 {
		return "…"
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:maxChars-1])) + "…"
}
