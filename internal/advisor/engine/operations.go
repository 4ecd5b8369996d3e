package engine

import (
	"context"
	"time"

	"gap-advisor/internal/advisor/export"
	"gap-advisor/internal/advisor/variant"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ConversationView is everything the chat screen needs when it opens or
// switches to a conversation.
type ConversationView struct {
	Conversation *models.Conversation       `json:"conversation"`
	Analysis     *models.Analysis           `json:"analysis"`
	Messages     []models.Message           `json:"messages"`
	Quota        models.QuotaStatus         `json:"quota"`
	Suggestions  []models.SuggestedQuestion `json:"suggestions"`
}

// OpenConversation returns the user's conversation for an analysis, creating
// it on first access. Switching to a variant is the same call with the
// variant's analysis.
func (e *Engine) OpenConversation(ctx context.Context, userID, analysisID string) (*ConversationView, error) {
	ctx, span := e.Tracer.Start(ctx, "advisor.OpenConversation", trace.WithAttributes(attribute.String("analysisId", analysisID)))
	defer span.End()

	if userID == "" || analysisID == "" {
		return nil, apperrors.NewInvalidInputError("userId and analysisId are required")
	}
	analysis, err := e.analysisFor(ctx, analysisID, userID)
	if err != nil {
		return nil, err
	}
	conv, err := e.Store.GetOrCreate(ctx, analysisID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.Store.GetMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, err
	}
	status, err := e.RemainingQuestions(ctx, userID, analysisID)
	if err != nil {
		return nil, err
	}

	return &ConversationView{
		Conversation: conv,
		Analysis:     analysis,
		Messages:     msgs,
		Quota:        status,
		Suggestions:  e.Suggester.Suggest(analysis, e.tail(msgs)),
	}, nil
}

// ListConversations feeds the variant switcher.
func (e *Engine) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidInputError("userId is required")
	}
	return e.Store.ListByUser(ctx, userID)
}

// ConfirmVariant performs the branching a detector proposal asked the user to
// confirm.
func (e *Engine) ConfirmVariant(ctx context.Context, userID, conversationID string, params map[string]string) (*variant.BranchResult, error) {
	ctx, span := e.Tracer.Start(ctx, "advisor.ConfirmVariant", trace.WithAttributes(attribute.String("conversationId", conversationID)))
	defer span.End()

	res, err := e.Brancher.ConfirmAndBranch(ctx, conversationID, userID, params)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) Suggestions(ctx context.Context, userID, conversationID string) ([]models.SuggestedQuestion, error) {
	conv, err := e.owned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	analysis, err := e.Analyses.GetAnalysis(ctx, conv.AnalysisID)
	if err != nil {
		return nil, err
	}
	recent, err := e.Store.GetMessages(ctx, conv.ID, e.opts.SuggestionHistory)
	if err != nil {
		return nil, err
	}
	return e.Suggester.Suggest(analysis, recent), nil
}

func (e *Engine) Export(ctx context.Context, userID, conversationID string, format export.Format, opts export.Options) (*export.Result, error) {
	ctx, span := e.Tracer.Start(ctx, "advisor.Export", trace.WithAttributes(
		attribute.String("conversationId", conversationID),
		attribute.String("format", string(format)),
	))
	defer span.End()

	if _, err := e.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return e.Exporter.Export(ctx, conversationID, format, opts)
}

func (e *Engine) RemainingQuestions(ctx context.Context, userID, analysisID string) (models.QuotaStatus, error) {
	tier, err := e.Tiers.GetTier(ctx, userID)
	if err != nil {
		return models.QuotaStatus{}, err
	}
	return e.Quota.GetRemainingQuestions(ctx, userID, analysisID, tier)
}

// DeleteConversation removes a conversation on the owner's request. It is
// refused while a turn is running.
func (e *Engine) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	conv, err := e.owned(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	release, err := e.Lock.Acquire(ctx, conv.ID, time.Minute)
	if err != nil {
		return err
	}
	defer release()

	if err := e.Store.Delete(ctx, conv.ID); err != nil {
		return err
	}
	e.logger.Info("conversation deleted", map[string]interface{}{
		"conversationId": conv.ID,
		"userId":         userID,
	})
	return nil
}

// owned loads a conversation and hides it from anyone but its owner.
func (e *Engine) owned(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	if userID == "" || conversationID == "" {
		return nil, apperrors.NewInvalidInputError("userId and conversationId are required")
	}
	conv, err := e.Store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, apperrors.NewNotFoundError("conversation", conversationID)
	}
	return conv, nil
}

// analysisFor loads an analysis the user may talk about. Analyses without an
// owner are shared.
func (e *Engine) analysisFor(ctx context.Context, analysisID, userID string) (*models.Analysis, error) {
	a, err := e.Analyses.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if a.UserID != "" && a.UserID != userID {
		return nil, apperrors.NewNotFoundError("analysis", analysisID)
	}
	return a, nil
}

func (e *Engine) tail(msgs []models.Message) []models.Message {
	if n := e.opts.SuggestionHistory; len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
