package variant

import (
	"context"

	"gap-advisor/internal/advisor/store"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"
)

// AnalysisCreator generates a new analysis from a base analysis with some
// parameters changed.
type AnalysisCreator interface {
	CreateAnalysis(ctx context.Context, baseAnalysisID string, params map[string]string) (*models.Analysis, error)
}

type BranchResult struct {
	Original *models.Conversation `json:"original"`
	Variant  *models.Conversation `json:"variant"`
	Analysis *models.Analysis     `json:"analysis"`
}

// Brancher performs the side effects of a confirmed variant request.
type Brancher struct {
	store    store.Store
	analyses AnalysisCreator
	logger   logger.Logger
}

func NewBrancher(s store.Store, analyses AnalysisCreator, log logger.Logger) *Brancher {
	return &Brancher{
		store:    s,
		analyses: analyses,
		logger:   log.WithFields(map[string]interface{}{"component": "variant-brancher"}),
	}
}

// ConfirmAndBranch creates the variant analysis, its conversation and the
// link from the original. Messages are never copied between the two.
func (b *Brancher) ConfirmAndBranch(ctx context.Context, conversationID, userID string, params map[string]string) (*BranchResult, error) {
	if len(params) == 0 {
		return nil, apperrors.NewInvalidInputError("no modified parameters to branch with")
	}

	original, err := b.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if original.UserID != userID {
		return nil, apperrors.NewNotFoundError("conversation", conversationID)
	}

	analysis, err := b.analyses.CreateAnalysis(ctx, original.AnalysisID, params)
	if err != nil {
		return nil, err
	}

	variant, err := b.store.GetOrCreate(ctx, analysis.ID, userID)
	if err != nil {
		return nil, err
	}
	if err := b.store.LinkVariant(ctx, original.ID, variant.ID, params); err != nil {
		return nil, err
	}

	if original, err = b.store.Get(ctx, original.ID); err != nil {
		return nil, err
	}

	b.logger.Info("variant conversation created", map[string]interface{}{
		"conversationId": original.ID,
		"variantId":      variant.ID,
		"analysisId":     analysis.ID,
		"baseAnalysisId": original.AnalysisID,
		"modifiedCount":  len(params),
	})
	return &BranchResult{Original: original, Variant: variant, Analysis: analysis}, nil
}
