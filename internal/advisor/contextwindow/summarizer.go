package contextwindow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"
)

// Summarizer compresses older turns into a digest of at most maxChars runes.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []models.Message, maxChars int) (string, error)
}

const (
	topicChars      = 80
	conclusionChars = 160
)

// HeuristicSummarizer builds a digest locally: user questions become topics,
// the first sentence of each answer becomes a conclusion. Most recent items
// win when the budget is tight.
type HeuristicSummarizer struct{}

func (HeuristicSummarizer) Summarize(_ context.Context, msgs []models.Message, maxChars int) (string, error) {
	if len(msgs) == 0 {
		return "", nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxSummaryChars
	}

	var topics, conclusions []string
	for _, msg := range msgs {
		text := collapseSpace(msg.Content)
		if text == "" {
			continue
		}
		switch msg.Role {
		case models.RoleUser:
			topics = append(topics, Clip(text, topicChars))
		case models.RoleAssistant:
			conclusions = append(conclusions, Clip(firstSentence(text), conclusionChars))
		}
	}

	half := maxChars / 2
	topicPart := fitRecent("Topics covered: ", topics, "; ", half)
	conclusionPart := fitRecent("Key conclusions: ", conclusions, " ", maxChars-runeLen(topicPart)-1)

	digest := strings.TrimSpace(strings.Join(nonEmpty(topicPart, conclusionPart), " "))
	return Clip(digest, maxChars), nil
}

// fitRecent joins as many trailing items as fit into budget runes and notes
// how many earlier ones were dropped.
func fitRecent(prefix string, items []string, sep string, budget int) string {
	if len(items) == 0 || budget <= runeLen(prefix) {
		return ""
	}

	used := runeLen(prefix)
	start := len(items)
	for i := len(items) - 1; i >= 0; i-- {
		cost := runeLen(items[i])
		if i < len(items)-1 {
			cost += runeLen(sep)
		}
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	if start == len(items) {
		return Clip(prefix+items[len(items)-1], budget)
	}

	out := prefix + strings.Join(items[start:], sep)
	if start > 0 {
		note := fmt.Sprintf(" (+%d earlier)", start)
		if runeLen(out)+runeLen(note) <= budget {
			out += note
		}
	}
	return out
}

// DefaultSummaryTimeout bounds one backend summarization call.
const DefaultSummaryTimeout = 60 * time.Second

// BackendSummarizer asks the completion backend for a digest and falls back
// to the heuristic when the call fails, times out or returns nothing.
type BackendSummarizer struct {
	backend  Backend
	timeout  time.Duration
	fallback Summarizer
	logger   logger.Logger
}

// Backend is the slice of the completion backend the summarizer needs.
type Backend interface {
	Generate(ctx context.Context, prompt *models.PromptPackage) (*models.Completion, error)
}

const summaryInstruction = `You compress chat transcripts. Summarize the conversation below in plain prose:
- List the topics the user asked about
- State the key conclusions the advisor reached
- Do not add new advice`

func NewBackendSummarizer(backend Backend, timeout time.Duration, log logger.Logger) *BackendSummarizer {
	if timeout <= 0 {
		timeout = DefaultSummaryTimeout
	}
	return &BackendSummarizer{
		backend:  backend,
		timeout:  timeout,
		fallback: HeuristicSummarizer{},
		logger:   log.WithFields(map[string]interface{}{"component": "backend-summarizer"}),
	}
}

func (s *BackendSummarizer) Summarize(ctx context.Context, msgs []models.Message, maxChars int) (string, error) {
	if len(msgs) == 0 {
		return "", nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxSummaryChars
	}

	prompt := &models.PromptPackage{
		SystemPrompt:        summaryInstruction,
		ConversationHistory: FormatHistory(msgs, DefaultMaxMessageChars),
		CurrentQuery:        fmt.Sprintf("Summarize in at most %d characters.", maxChars),
	}
	prompt.TotalTokens = EstimateTokens(prompt.SystemPrompt) +
		EstimateTokens(prompt.ConversationHistory) +
		EstimateTokens(prompt.CurrentQuery)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	out, err := s.backend.Generate(callCtx, prompt)
	cancel()
	if err == nil && out != nil && strings.TrimSpace(out.Content) != "" {
		return Clip(collapseSpace(out.Content), maxChars), nil
	}
	if errors.Is(err, context.Canceled) {
		return "", err
	}

	s.logger.Warn("backend summary unavailable", map[string]interface{}{
		"messages": len(msgs),
		"error":    fmt.Sprint(err),
	})
	return s.fallback.Summarize(ctx, msgs, maxChars)
}

func firstSentence(s string) string {
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(s) || s[i+1] == ' ' {
				return s[:i+1]
			}
		}
	}
	return s
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int {
	return len([]rune(s))
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
