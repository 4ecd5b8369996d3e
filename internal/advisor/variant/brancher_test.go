package variant

import (
	"context"
	"errors"
	"testing"

	"gap-advisor/internal/advisor/store"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreator struct {
	base   string
	params map[string]string
	err    error
	nextID string
}

func (f *fakeCreator) CreateAnalysis(_ context.Context, base string, params map[string]string) (*models.Analysis, error) {
	f.base, f.params = base, params
	if f.err != nil {
		return nil, f.err
	}
	return &models.Analysis{ID: f.nextID, BaseAnalysisID: base, Parameters: params}, nil
}

func TestConfirmAndBranch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.Options{})
	original, err := s.GetOrCreate(ctx, "analysis-us", "user-1")
	require.NoError(t, err)
	_, err = s.AddUserMessage(ctx, original.ID, "What if I target Europe instead of the US?", models.UserMetadata{})
	require.NoError(t, err)

	creator := &fakeCreator{nextID: "analysis-eu"}
	b := NewBrancher(s, creator, logger.NewTestLogger(t))
	params := map[string]string{"market": "Europe"}

	res, err := b.ConfirmAndBranch(ctx, original.ID, "user-1", params)
	require.NoError(t, err)

	assert.Equal(t, "analysis-us", creator.base)
	assert.Equal(t, params, creator.params)
	assert.Equal(t, "analysis-eu", res.Variant.AnalysisID)
	assert.Equal(t, []string{res.Variant.ID}, res.Original.VariantIDs)

	// The original keeps its messages; the variant starts empty.
	msgs, err := s.GetMessages(ctx, original.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	variantMsgs, err := s.GetMessages(ctx, res.Variant.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, variantMsgs)

	// Confirming again reuses the same variant conversation and link.
	again, err := b.ConfirmAndBranch(ctx, original.ID, "user-1", params)
	require.NoError(t, err)
	assert.Equal(t, res.Variant.ID, again.Variant.ID)
	assert.Len(t, again.Original.VariantIDs, 1)

	// Switching back is a plain read.
	reopened, err := s.GetOrCreate(ctx, "analysis-us", "user-1")
	require.NoError(t, err)
	assert.Equal(t, original.ID, reopened.ID)
}

func TestConfirmAndBranch_Errors(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.Options{})
	original, err := s.GetOrCreate(ctx, "analysis-us", "user-1")
	require.NoError(t, err)

	tests := []struct {
		name           string
		conversationID string
		userID         string
		params         map[string]string
		creatorErr     error
		code           apperrors.ErrorCode
	}{
		{"no parameters", original.ID, "user-1", nil, nil, apperrors.ErrCodeInvalidInput},
		{"unknown conversation", "missing", "user-1", map[string]string{"market": "EU"}, nil, apperrors.ErrCodeNotFound},
		{"other user's conversation", original.ID, "user-2", map[string]string{"market": "EU"}, nil, apperrors.ErrCodeNotFound},
		{"generation unavailable", original.ID, "user-1", map[string]string{"market": "EU"},
			apperrors.NewAnalysisUnavailableError(errors.New("503")), apperrors.ErrCodeAnalysisUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBrancher(s, &fakeCreator{nextID: "analysis-x", err: tt.creatorErr}, logger.NewTestLogger(t))
			_, err := b.ConfirmAndBranch(ctx, tt.conversationID, tt.userID, tt.params)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}

	conv, err := s.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Empty(t, conv.VariantIDs)
}
