package contextwindow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func testAnalysis() *models.Analysis {
	return &models.Analysis{
		ID:         "analysis-1",
		Title:      "Meal kits for remote workers",
		Score:      78,
		Summary:    "Underserved lunch segment.",
		Gaps:       []models.Gap{{Title: "Fast delivery", Description: "Same-day is rare", Opportunity: 82}},
		Parameters: map[string]string{"market": "US", "budget": "$50k"},
	}
}

// conversation alternates user and assistant messages, numbered from 1.
func conversation(n int) []models.Message {
	msgs := make([]models.Message, 0, n)
	for i := 1; i <= n; i++ {
		role := models.RoleUser
		content := fmt.Sprintf("Question number %d about pricing?", i)
		if i%2 == 0 {
			role = models.RoleAssistant
			content = fmt.Sprintf("Answer number %d is to start small. Then expand regionally.", i)
		}
		msgs = append(msgs, models.Message{Seq: int64(i), Role: role, Content: content})
	}
	return msgs
}

type fakeBackend struct {
	content string
	err     error
	prompts []*models.PromptPackage
}

func (f *fakeBackend) Generate(_ context.Context, p *models.PromptPackage) (*models.Completion, error) {
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Completion{Content: f.content}, nil
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, []models.Message, int) (string, error) {
	return "", errors.New("boom")
}

func newManager(t *testing.T, s Summarizer) *Manager {
	return NewManager(Options{VerbatimThreshold: 10, RecentMessages: 5}, s, logger.NewTestLogger(t))
}

// ==========================
// Build
// ==========================

func TestBuild_EmptyHistory(t *testing.T) {
	m := newManager(t, nil)

	pkg, err := m.Build(context.Background(), testAnalysis(), nil, "What is the biggest gap?")
	require.NoError(t, err)

	assert.Equal(t, "", pkg.ConversationHistory)
	assert.False(t, pkg.Summarized)
	assert.Equal(t, "What is the biggest gap?", pkg.CurrentQuery)
	assert.Contains(t, pkg.AnalysisContext, "Meal kits for remote workers")
	assert.Contains(t, pkg.AnalysisContext, "Parameters: budget=$50k, market=US")
}

func TestBuild_VerbatimAtThreshold(t *testing.T) {
	m := newManager(t, nil)
	history := conversation(10)

	pkg, err := m.Build(context.Background(), testAnalysis(), history, "next")
	require.NoError(t, err)

	assert.False(t, pkg.Summarized)
	assert.Equal(t, 10, pkg.VerbatimCount)
	lines := strings.Split(pkg.ConversationHistory, "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "user: Question number 1 about pricing?", lines[0])
	assert.Equal(t, "assistant: Answer number 10 is to start small. Then expand regionally.", lines[9])

	expected := EstimateTokens(pkg.SystemPrompt) + EstimateTokens(pkg.AnalysisContext) +
		EstimateTokens(FormatHistory(history, DefaultMaxMessageChars)) + EstimateTokens("next")
	assert.Equal(t, expected, pkg.TotalTokens)
}

func TestBuild_FifteenMessagesSummarizesFirstTen(t *testing.T) {
	m := newManager(t, nil)
	history := conversation(15)

	pkg, err := m.Build(context.Background(), testAnalysis(), history, "What about the 16th turn?")
	require.NoError(t, err)

	assert.True(t, pkg.Summarized)
	assert.Equal(t, 10, pkg.SummarizedCount)
	assert.Equal(t, 5, pkg.VerbatimCount)
	assert.True(t, strings.HasPrefix(pkg.ConversationHistory, "Summary: "))

	parts := strings.SplitN(pkg.ConversationHistory, "Recent messages:\n", 2)
	require.Len(t, parts, 2)
	for i := 11; i <= 15; i++ {
		assert.Contains(t, parts[1], history[i-1].Content)
	}
	for i := 1; i <= 10; i++ {
		assert.NotContains(t, parts[1], fmt.Sprintf("number %d ", i))
	}
	assert.Contains(t, parts[0], "Topics covered:")
	assert.Contains(t, parts[0], "Key conclusions:")
}

func TestBuild_TokenGrowthIsBounded(t *testing.T) {
	m := newManager(t, nil)

	small, err := m.Build(context.Background(), testAnalysis(), conversation(20), "q")
	require.NoError(t, err)
	large, err := m.Build(context.Background(), testAnalysis(), conversation(400), "q")
	require.NoError(t, err)

	// The digest is capped, so 20x more history adds at most the summary budget.
	assert.LessOrEqual(t, large.TotalTokens-small.TotalTokens, DefaultMaxSummaryChars/4+1)
	assert.LessOrEqual(t, len([]rune(large.ConversationHistory)), DefaultMaxSummaryChars+6*200)
}

func TestBuild_TruncatesOversizedMessage(t *testing.T) {
	m := NewManager(Options{MaxMessageChars: 20}, nil, logger.NewTestLogger(t))
	history := []models.Message{{Role: models.RoleUser, Content: strings.Repeat("a", 100)}}

	pkg, err := m.Build(context.Background(), nil, history, strings.Repeat("b", 30))
	require.NoError(t, err)

	assert.Equal(t, "user: "+strings.Repeat("a", 20)+TruncationMarker, pkg.ConversationHistory)
	assert.Equal(t, strings.Repeat("b", 20)+TruncationMarker, pkg.CurrentQuery)
	assert.Equal(t, strings.Repeat("a", 100), history[0].Content)
}

func TestBuild_SummarizerFailureFallsBack(t *testing.T) {
	m := newManager(t, failingSummarizer{})

	pkg, err := m.Build(context.Background(), testAnalysis(), conversation(12), "q")
	require.NoError(t, err)
	assert.Contains(t, pkg.ConversationHistory, "Topics covered:")
}

func TestBuild_CancelledContext(t *testing.T) {
	m := newManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Build(ctx, testAnalysis(), conversation(3), "q")
	assert.ErrorIs(t, err, context.Canceled)
}

// ==========================
// Summarizers
// ==========================

func TestHeuristicSummarizer_RespectsBudget(t *testing.T) {
	for _, budget := range []int{40, 120, 500} {
		t.Run(fmt.Sprintf("budget %d", budget), func(t *testing.T) {
			digest, err := HeuristicSummarizer{}.Summarize(context.Background(), conversation(60), budget)
			require.NoError(t, err)
			assert.LessOrEqual(t, len([]rune(digest)), budget)
			assert.NotEmpty(t, digest)
		})
	}
}

func TestHeuristicSummarizer_KeepsMostRecent(t *testing.T) {
	digest, err := HeuristicSummarizer{}.Summarize(context.Background(), conversation(30), 300)
	require.NoError(t, err)

	assert.Contains(t, digest, "Question number 29 about pricing?")
	assert.Contains(t, digest, "Answer number 30 is to start small.")
	assert.NotContains(t, digest, "Then expand regionally")
	assert.Contains(t, digest, "earlier)")
}

func TestBackendSummarizer(t *testing.T) {
	t.Run("uses backend digest", func(t *testing.T) {
		backend := &fakeBackend{content: "  The user explored   pricing.  "}
		s := NewBackendSummarizer(backend, time.Second, logger.NewTestLogger(t))

		digest, err := s.Summarize(context.Background(), conversation(4), 100)
		require.NoError(t, err)
		assert.Equal(t, "The user explored pricing.", digest)
		require.Len(t, backend.prompts, 1)
		assert.Contains(t, backend.prompts[0].ConversationHistory, "user: Question number 1")
	})

	t.Run("falls back on error", func(t *testing.T) {
		backend := &fakeBackend{err: errors.New("unavailable")}
		s := NewBackendSummarizer(backend, time.Second, logger.NewTestLogger(t))

		digest, err := s.Summarize(context.Background(), conversation(4), 200)
		require.NoError(t, err)
		assert.Contains(t, digest, "Topics covered:")
	})

	t.Run("slow backend times out to heuristic", func(t *testing.T) {
		s := NewBackendSummarizer(hangingBackend{}, 20*time.Millisecond, logger.NewTestLogger(t))

		start := time.Now()
		digest, err := s.Summarize(context.Background(), conversation(4), 200)
		require.NoError(t, err)
		assert.Contains(t, digest, "Topics covered:")
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("caller cancellation is returned", func(t *testing.T) {
		s := NewBackendSummarizer(hangingBackend{}, time.Minute, logger.NewTestLogger(t))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Summarize(ctx, conversation(4), 200)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// hangingBackend answers only when its context ends.
type hangingBackend struct{}

func (hangingBackend) Generate(ctx context.Context, _ *models.PromptPackage) (*models.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, "héllo", Truncate("héllo", 5))
	assert.Equal(t, "hé"+TruncationMarker, Truncate("héllo", 2))
	assert.Equal(t, "ab…", Clip("abcdef", 3))
	assert.Equal(t, "One.", firstSentence("One. Two."))
	assert.Equal(t, "v1.2 works", firstSentence("v1.2 works"))
}
