package variant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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

func usAnalysis() *models.Analysis {
	return &models.Analysis{
		ID:    "analysis-us",
		Title: "Pet insurance",
		Parameters: map[string]string{
			models.ParamMarket:   "US",
			models.ParamBudget:   "$50k",
			models.ParamAudience: "Millennials",
		},
	}
}

func newDetector(t *testing.T, opts ...DetectorOption) *Detector {
	t.Helper()
	lex, err := DefaultLexicon()
	require.NoError(t, err)
	return NewDetector(lex, logger.NewTestLogger(t), opts...)
}

type stubClassifier struct {
	result *Classification
	err    error
	calls  int
}

func (s *stubClassifier) Classify(context.Context, string, *models.Analysis) (*Classification, error) {
	s.calls++
	return s.result, s.err
}

// ==========================
// Propose
// ==========================

func TestPropose_Scenarios(t *testing.T) {
	d := newDetector(t)

	tests := []struct {
		name       string
		message    string
		reanalysis bool
		outcome    Outcome
		params     map[string]string
	}{
		{
			name:       "market switch",
			message:    "What if I target Europe instead of the US?",
			reanalysis: true,
			outcome:    OutcomeReanalysis,
			params:     map[string]string{"market": "Europe"},
		},
		{
			name:    "clarifying question",
			message: "What makes this unique?",
			outcome: OutcomeQuestion,
		},
		{
			name:       "replaced market mentioned first",
			message:    "Rather than the USA, what if we target Japan?",
			reanalysis: true,
			outcome:    OutcomeReanalysis,
			params:     map[string]string{"market": "Japan"},
		},
		{
			name:       "budget and audience",
			message:    "Re-run this with a budget of $250K aimed at students",
			reanalysis: true,
			outcome:    OutcomeReanalysis,
			params:     map[string]string{"budget": "$250k", "audience": "Students"},
		},
		{
			name:    "same market is not a change",
			message: "What if I target the US?",
			outcome: OutcomeAmbiguous,
			params:  map[string]string{"market": "United States"},
		},
		{
			name:    "pronoun us is not a market",
			message: "Can you tell us more about the competitors?",
			outcome: OutcomeQuestion,
		},
		{
			name:       "re-run for another market",
			message:    "Re-run this for Europe",
			reanalysis: true,
			outcome:    OutcomeReanalysis,
			params:     map[string]string{"market": "Europe"},
		},
		{
			name:       "redo for a market alias",
			message:    "Redo the analysis for the European market",
			reanalysis: true,
			outcome:    OutcomeReanalysis,
			params:     map[string]string{"market": "Europe"},
		},
		{
			name:       "new analysis request",
			message:    "Can you run a new analysis for Germany?",
			reanalysis: true,
			outcome:    OutcomeReanalysis,
			params:     map[string]string{"market": "Germany"},
		},
		{
			name:       "switch market",
			message:    "Switch to the UK market",
			reanalysis: true,
			outcome:    OutcomeReanalysis,
			params:     map[string]string{"market": "United Kingdom"},
		},
		{
			name:       "what if without replaced market",
			message:    "What if I target Europe?",
			reanalysis: true,
			outcome:    OutcomeReanalysis,
			params:     map[string]string{"market": "Europe"},
		},
		{
			name:    "parameter without intent",
			message: "Is Europe a big market for this?",
			outcome: OutcomeAmbiguous,
			params:  map[string]string{"market": "Europe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := d.Propose(context.Background(), tt.message, usAnalysis())

			assert.Equal(t, tt.reanalysis, det.IsReanalysisRequest, "confidence %d", det.Confidence)
			assert.Equal(t, tt.outcome, det.Outcome, "confidence %d", det.Confidence)
			if tt.params == nil {
				assert.Empty(t, det.ModifiedParameters)
			} else {
				assert.Equal(t, tt.params, det.ModifiedParameters)
			}
			if tt.reanalysis {
				assert.GreaterOrEqual(t, det.Confidence, DefaultThreshold)
				assert.NotEmpty(t, det.ConfirmationPrompt)
			} else {
				assert.Empty(t, det.ConfirmationPrompt)
			}
		})
	}
}

func TestPropose_DoesNotMutateAnalysis(t *testing.T) {
	d := newDetector(t)
	a := usAnalysis()

	d.Propose(context.Background(), "What if I target Europe instead of the US?", a)
	assert.Equal(t, usAnalysis().Parameters, a.Parameters)
}

func TestPropose_ClassifierConsultedInAmbiguousBand(t *testing.T) {
	t.Run("classifier confirms", func(t *testing.T) {
		c := &stubClassifier{result: &Classification{
			Reanalysis: true,
			Confidence: 93,
			Parameters: map[string]string{"market": "Europe"},
		}}
		d := newDetector(t, WithClassifier(c))

		det := d.Propose(context.Background(), "Could we target the EU market?", &models.Analysis{})
		assert.Equal(t, 1, c.calls)
		assert.True(t, det.IsReanalysisRequest)
		assert.Equal(t, 93, det.Confidence)
		assert.Equal(t, "Europe", det.ModifiedParameters["market"])
	})

	t.Run("classifier failure keeps heuristic", func(t *testing.T) {
		c := &stubClassifier{err: errors.New("timeout")}
		d := newDetector(t, WithClassifier(c))

		det := d.Propose(context.Background(), "Could we target the EU market?", &models.Analysis{})
		assert.Equal(t, 1, c.calls)
		assert.False(t, det.IsReanalysisRequest)
		assert.Equal(t, OutcomeAmbiguous, det.Outcome)
	})

	t.Run("clear cases skip the classifier", func(t *testing.T) {
		c := &stubClassifier{}
		d := newDetector(t, WithClassifier(c))

		d.Propose(context.Background(), "What makes this unique?", usAnalysis())
		d.Propose(context.Background(), "What if I target Europe instead of the US?", usAnalysis())
		assert.Equal(t, 0, c.calls)
	})
}

func TestConfirmationPrompt_SortedParameters(t *testing.T) {
	prompt := ConfirmationPrompt(map[string]string{"market": "Europe", "budget": "$10k"})
	assert.Contains(t, prompt, "budget: $10k, market: Europe")
}

func TestParseLexicon_Invalid(t *testing.T) {
	_, err := ParseLexicon([]byte("triggers: [unclosed"))
	assert.Error(t, err)
}

// ==========================
// HTTP classifier
// ==========================

func TestHTTPClassifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/parse-intent", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req intentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "analysis-us", req.Context["analysisId"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"intent":     "modify_parameters",
			"confidence": 0.92,
			"entities": []map[string]string{
				{"type": "location", "value": "Germany"},
				{"type": "franchise_name", "value": "ignored"},
			},
		})
	}))
	defer server.Close()

	c := NewHTTPClassifier(server.URL, "secret", time.Second)
	res, err := c.Classify(context.Background(), "Germany instead?", usAnalysis())
	require.NoError(t, err)

	assert.True(t, res.Reanalysis)
	assert.Equal(t, 92, res.Confidence)
	assert.Equal(t, map[string]string{"market": "Germany"}, res.Parameters)
}

func TestHTTPClassifier_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewHTTPClassifier(server.URL, "", time.Second).Classify(context.Background(), "x", nil)
	assert.Error(t, err)
}
