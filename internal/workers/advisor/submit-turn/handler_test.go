package submitturn

import (
	"context"
	"testing"
	"time"

	"gap-advisor/internal/advisor/engine"
	"gap-advisor/internal/advisor/variant"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"
	"gap-advisor/internal/workers/advisor/jobs"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeEngine struct {
	got engine.TurnRequest
	res *engine.TurnResult
	err error
}

func (f *fakeEngine) SubmitTurn(_ context.Context, req engine.TurnRequest) (*engine.TurnResult, error) {
	f.got = req
	return f.res, f.err
}

func turnResult(detection variant.Detection) *engine.TurnResult {
	return &engine.TurnResult{
		Conversation: &models.Conversation{ID: "c-1", AnalysisID: "a-1", UserID: "u-1"},
		UserMessage:  &models.Message{ID: "m-1", Role: models.RoleUser, Content: "What if I target Europe?"},
		AssistantMessage: &models.Message{
			ID:       "m-2",
			Role:     models.RoleAssistant,
			Content:  "Europe has fewer meal-kit players.",
			Metadata: models.AssistantMetadata{ProcessingTimeMs: 900, Attempts: 1, IntentConfidence: detection.Confidence},
		},
		Quota:       models.QuotaDecision{Allowed: true, Remaining: 3, Limit: 5},
		Detection:   detection,
		Suggestions: []models.SuggestedQuestion{{Text: "What would raise the score above 72?", Category: "score", Priority: 70}},
	}
}

func newHandler(t *testing.T, eng TurnSubmitter) *Handler {
	return NewHandler(&Config{Timeout: time.Second}, eng, logger.NewTestLogger(t))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name      string
		detection variant.Detection
		validate  func(t *testing.T, out *Output)
	}{
		{
			name:      "plain question",
			detection: variant.Detection{Confidence: 10, Outcome: variant.OutcomeQuestion},
			validate: func(t *testing.T, out *Output) {
				assert.False(t, out.Reanalysis.Proposed)
				assert.Nil(t, out.Reanalysis.ModifiedParameters)
				assert.Empty(t, out.Reanalysis.ConfirmationPrompt)
			},
		},
		{
			name: "variant proposal",
			detection: variant.Detection{
				IsReanalysisRequest: true,
				Confidence:          95,
				ModifiedParameters:  map[string]string{"market": "Europe"},
				ConfirmationPrompt:  "Create a variant analysis with market: Europe?",
				Outcome:             variant.OutcomeReanalysis,
			},
			validate: func(t *testing.T, out *Output) {
				assert.True(t, out.Reanalysis.Proposed)
				assert.Equal(t, 95, out.Reanalysis.Confidence)
				assert.Equal(t, "Europe", out.Reanalysis.ModifiedParameters["market"])
				assert.NotEmpty(t, out.Reanalysis.ConfirmationPrompt)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{res: turnResult(tt.detection)}
			h := newHandler(t, eng)

			out, err := h.Execute(context.Background(), &Input{UserID: "u-1", AnalysisID: "a-1", Message: "What if I target Europe?", TurnID: "4503599627370541"})
			require.NoError(t, err)

			assert.Equal(t, engine.TurnRequest{UserID: "u-1", AnalysisID: "a-1", Text: "What if I target Europe?", TurnID: "4503599627370541"}, eng.got)
			assert.Equal(t, "c-1", out.ConversationID)
			assert.Equal(t, "m-2", out.AssistantMessageID)
			assert.Equal(t, "Europe has fewer meal-kit players.", out.Answer)
			assert.Equal(t, int64(900), out.Metadata.ProcessingTimeMs)
			assert.Equal(t, 3, out.Quota.Remaining)
			assert.Len(t, out.Suggestions, 1)
			tt.validate(t, out)
		})
	}
}

func TestHandler_Execute_PropagatesEngineErrors(t *testing.T) {
	h := newHandler(t, &fakeEngine{err: apperrors.NewQuotaExceededError(5)})

	_, err := h.Execute(context.Background(), &Input{UserID: "u-1", AnalysisID: "a-1", Message: "hi"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeQuotaExceeded))
}

func TestTurnID(t *testing.T) {
	job := entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 4503599627370541}}

	tests := []struct {
		name     string
		explicit string
		want     string
	}{
		{"job key survives redelivery", "", "4503599627370541"},
		{"process variable wins", "turn-9", "turn-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, turnID(job, tt.explicit))
			// A redelivered job carries the same key and therefore the same turn.
			assert.Equal(t, turnID(job, tt.explicit), turnID(job, tt.explicit))
		})
	}
}

// ==========================
// Input Validation Tests
// ==========================

func TestInputSchema(t *testing.T) {
	tests := []struct {
		name      string
		variables string
		wantErr   bool
	}{
		{"valid", `{"userId":"u-1","analysisId":"a-1","message":"hi"}`, false},
		{"with turn id", `{"userId":"u-1","analysisId":"a-1","message":"hi","turnId":"t-1"}`, false},
		{"numeric turn id", `{"userId":"u-1","analysisId":"a-1","message":"hi","turnId":7}`, true},
		{"missing message", `{"userId":"u-1","analysisId":"a-1"}`, true},
		{"empty user", `{"userId":"","analysisId":"a-1","message":"hi"}`, true},
		{"wrong type", `{"userId":"u-1","analysisId":7,"message":"hi"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in Input
			err := jobs.Decode(tt.variables, inputSchema, &in)
			if tt.wantErr {
				assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "hi", in.Message)
		})
	}
}
