package retryturn

import (
	"context"
	"testing"
	"time"

	"gap-advisor/internal/advisor/engine"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	calls []string
	err   error
}

func (f *fakeEngine) RetryTurn(_ context.Context, userID, conversationID string) (*engine.TurnResult, error) {
	f.calls = append(f.calls, userID+"/"+conversationID)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.TurnResult{
		Conversation:     &models.Conversation{ID: conversationID},
		UserMessage:      &models.Message{ID: "m-1", Role: models.RoleUser, Content: "Which gap first?"},
		AssistantMessage: &models.Message{ID: "m-2", Role: models.RoleAssistant, Content: "Fast delivery.", Metadata: models.AssistantMetadata{Attempts: 2}},
		Quota:            models.QuotaDecision{Allowed: true, Remaining: 4, Limit: 5},
	}, nil
}

func TestHandler_Execute(t *testing.T) {
	eng := &fakeEngine{}
	h := NewHandler(&Config{Timeout: time.Second}, eng, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{UserID: "u-1", ConversationID: "c-9"})
	require.NoError(t, err)

	assert.Equal(t, []string{"u-1/c-9"}, eng.calls)
	assert.Equal(t, "c-9", out.ConversationID)
	assert.Equal(t, "m-1", out.UserMessageID)
	assert.Equal(t, "Fast delivery.", out.Answer)
	assert.Equal(t, 2, out.Metadata.Attempts)
	assert.False(t, out.Reanalysis.Proposed)
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"nothing to retry", apperrors.NewInvalidInputError("conversation has no unanswered question"), apperrors.ErrCodeInvalidInput},
		{"turn running", apperrors.NewTurnInProgressError("c-9"), apperrors.ErrCodeTurnInProgress},
		{"backend down", apperrors.NewBackendUnavailableError(context.DeadlineExceeded), apperrors.ErrCodeBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&Config{Timeout: time.Second}, &fakeEngine{err: tt.err}, logger.NewTestLogger(t))

			_, err := h.Execute(context.Background(), &Input{UserID: "u-1", ConversationID: "c-9"})
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}
