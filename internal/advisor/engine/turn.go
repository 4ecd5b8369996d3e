package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gap-advisor/internal/advisor/store"
	"gap-advisor/internal/advisor/variant"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/metrics"
	"gap-advisor/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TurnRequest is one question. TurnID identifies the submission across
// redeliveries of the same process job; a request whose TurnID matches the
// last exchange resumes or returns that exchange instead of asking again.
type TurnRequest struct {
	UserID     string `json:"userId"`
	AnalysisID string `json:"analysisId"`
	Text       string `json:"text"`
	TurnID     string `json:"turnId,omitempty"`
}

type TurnResult struct {
	Conversation     *models.Conversation       `json:"conversation"`
	UserMessage      *models.Message            `json:"userMessage"`
	AssistantMessage *models.Message            `json:"assistantMessage"`
	Quota            models.QuotaDecision       `json:"quota"`
	Detection        variant.Detection          `json:"detection"`
	Suggestions      []models.SuggestedQuestion `json:"suggestions"`
}

// turn is the state shared by SubmitTurn and RetryTurn once the question has
// been admitted.
type turn struct {
	conv     *models.Conversation
	analysis *models.Analysis
	tier     string
	history  []models.Message
	question *models.Message
	quota    models.QuotaDecision
}

// SubmitTurn asks one question. The question is charged at admission and
// refunded if no answer is persisted, so a failed or cancelled turn costs
// nothing. The user message stays in the history either way and RetryTurn
// can answer it later. Resubmitting the same TurnID never appends the
// question twice.
func (e *Engine) SubmitTurn(ctx context.Context, req TurnRequest) (res *TurnResult, err error) {
	start := time.Now()
	ctx, span := e.Tracer.Start(ctx, "advisor.SubmitTurn", trace.WithAttributes(
		attribute.String("analysisId", req.AnalysisID),
	))
	defer func() { e.finish(span, start, err) }()

	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.AnalysisID) == "" {
		return nil, apperrors.NewInvalidInputError("userId and analysisId are required")
	}
	if err := store.ValidateText(req.Text, e.opts.MaxMessageLength); err != nil {
		return nil, err
	}

	analysis, err := e.analysisFor(ctx, req.AnalysisID, req.UserID)
	if err != nil {
		return nil, err
	}

	conv, err := e.Store.GetOrCreate(ctx, req.AnalysisID, req.UserID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("conversationId", conv.ID))

	release, err := e.Lock.Acquire(ctx, conv.ID, e.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	msgs, err := e.Store.GetMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, err
	}

	question, reply := lastExchange(msgs, req.TurnID)
	if reply != nil {
		return e.replay(ctx, conv, analysis, msgs, question, reply)
	}

	tier, decision, err := e.admit(ctx, req.UserID, req.AnalysisID)
	if err != nil {
		return nil, err
	}

	t := &turn{conv: conv, analysis: analysis, tier: tier, history: msgs, quota: decision}

	if question != nil {
		e.logger.Info("resuming unanswered turn", map[string]interface{}{
			"conversationId": conv.ID,
			"turnId":         req.TurnID,
			"messageId":      question.ID,
		})
		t.history, t.question = msgs[:len(msgs)-1], question
	} else if t.question, err = e.Store.AddUserMessage(ctx, conv.ID, req.Text, models.UserMetadata{TurnID: req.TurnID}); err != nil {
		e.refund(ctx, t, err)
		return nil, err
	}

	res, err = e.answer(ctx, t)
	if err != nil {
		e.refund(ctx, t, err)
		return nil, err
	}
	return res, nil
}

// lastExchange finds the question an earlier delivery of turnID persisted.
// Only the final exchange is considered: reply is nil when the question is
// still unanswered, and both are nil when turnID is new.
func lastExchange(msgs []models.Message, turnID string) (question, reply *models.Message) {
	n := len(msgs)
	if turnID == "" || n == 0 {
		return nil, nil
	}
	if msgs[n-1].Role == models.RoleUser && turnIDOf(msgs[n-1]) == turnID {
		return &msgs[n-1], nil
	}
	if n >= 2 && msgs[n-1].Role == models.RoleAssistant &&
		msgs[n-2].Role == models.RoleUser && turnIDOf(msgs[n-2]) == turnID {
		return &msgs[n-2], &msgs[n-1]
	}
	return nil, nil
}

func turnIDOf(m models.Message) string {
	meta, _ := m.Metadata.(models.UserMetadata)
	return meta.TurnID
}

// replay rebuilds the result of a turn that was answered but whose job
// completion never reached the broker. Nothing is charged or persisted.
func (e *Engine) replay(ctx context.Context, conv *models.Conversation, analysis *models.Analysis, msgs []models.Message, question, reply *models.Message) (*TurnResult, error) {
	tier, err := e.Tiers.GetTier(ctx, conv.UserID)
	if err != nil {
		return nil, err
	}
	status, err := e.Quota.GetRemainingQuestions(ctx, conv.UserID, conv.AnalysisID, tier)
	if err != nil {
		return nil, err
	}

	e.logger.Info("turn already answered, replaying result", map[string]interface{}{
		"conversationId": conv.ID,
		"messageId":      reply.ID,
	})

	return &TurnResult{
		Conversation:     conv,
		UserMessage:      question,
		AssistantMessage: reply,
		Quota:            models.QuotaDecision{Allowed: true, Remaining: status.Remaining, Limit: status.Limit},
		Detection:        e.Detector.Propose(ctx, question.Content, analysis),
		Suggestions:      e.Suggester.Suggest(analysis, e.tail(msgs)),
	}, nil
}

// RetryTurn answers the trailing user message of a conversation whose last
// turn failed. The user message is not persisted again.
func (e *Engine) RetryTurn(ctx context.Context, userID, conversationID string) (res *TurnResult, err error) {
	start := time.Now()
	ctx, span := e.Tracer.Start(ctx, "advisor.RetryTurn", trace.WithAttributes(
		attribute.String("conversationId", conversationID),
	))
	defer func() { e.finish(span, start, err) }()

	conv, err := e.owned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	release, err := e.Lock.Acquire(ctx, conv.ID, e.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	msgs, err := e.Store.GetMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != models.RoleUser {
		return nil, apperrors.NewInvalidInputError("conversation has no unanswered question")
	}

	analysis, err := e.analysisFor(ctx, conv.AnalysisID, userID)
	if err != nil {
		return nil, err
	}

	tier, decision, err := e.admit(ctx, userID, conv.AnalysisID)
	if err != nil {
		return nil, err
	}

	last := msgs[len(msgs)-1]
	t := &turn{
		conv:     conv,
		analysis: analysis,
		tier:     tier,
		history:  msgs[:len(msgs)-1],
		question: &last,
		quota:    decision,
	}

	res, err = e.answer(ctx, t)
	if err != nil {
		e.refund(ctx, t, err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) admit(ctx context.Context, userID, analysisID string) (string, models.QuotaDecision, error) {
	tier, err := e.Tiers.GetTier(ctx, userID)
	if err != nil {
		return "", models.QuotaDecision{}, err
	}
	decision, err := e.Quota.Admit(ctx, userID, tier, analysisID)
	return tier, decision, err
}

// answer runs the pipeline from prompt building to persisting the answer.
func (e *Engine) answer(ctx context.Context, t *turn) (*TurnResult, error) {
	pkg, err := e.Context.Build(ctx, t.analysis, t.history, t.question.Content)
	if err != nil {
		return nil, err
	}
	metrics.PromptTokens.WithLabelValues(strconv.FormatBool(pkg.Summarized)).Observe(float64(pkg.TotalTokens))

	completion, attempts, err := e.generate(ctx, pkg)
	if err != nil {
		return nil, err
	}

	detection := e.Detector.Propose(ctx, t.question.Content, t.analysis)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply, err := e.Store.AddAssistantMessage(ctx, t.conv.ID, completion.Content, models.AssistantMetadata{
		ProcessingTimeMs: completion.ProcessingTimeMs,
		Tokens:           completion.TokensUsed,
		PromptTokens:     pkg.TotalTokens,
		Summarized:       pkg.Summarized,
		Attempts:         attempts,
		IntentConfidence: detection.Confidence,
	})
	if err != nil {
		return nil, err
	}
	t.conv.UpdatedAt = reply.CreatedAt

	recent := e.tail(append(append([]models.Message(nil), t.history...), *t.question, *reply))

	e.logger.Info("turn answered", map[string]interface{}{
		"conversationId": t.conv.ID,
		"analysisId":     t.conv.AnalysisID,
		"userId":         t.conv.UserID,
		"tier":           t.tier,
		"remaining":      t.quota.Remaining,
		"promptTokens":   pkg.TotalTokens,
		"summarized":     pkg.Summarized,
		"attempts":       attempts,
		"intentOutcome":  detection.Outcome,
	})

	return &TurnResult{
		Conversation:     t.conv,
		UserMessage:      t.question,
		AssistantMessage: reply,
		Quota:            t.quota,
		Detection:        detection,
		Suggestions:      e.Suggester.Suggest(t.analysis, recent),
	}, nil
}

// generate calls the backend with a per-attempt timeout, retrying retryable
// failures with exponential backoff.
func (e *Engine) generate(ctx context.Context, pkg *models.PromptPackage) (*models.Completion, int, error) {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.BackendTimeout)
		completion, err := e.Backend.Generate(callCtx, pkg)
		cancel()
		if err == nil {
			return completion, attempt, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt, callerError(ctxErr)
		}
		var stdErr *apperrors.StandardError
		if !errors.As(err, &stdErr) && errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.NewBackendTimeoutError(err)
		}
		if attempt > e.opts.MaxRetries || !apperrors.IsRetryable(err) {
			return nil, attempt, err
		}

		backoff := e.opts.RetryBackoff << (attempt - 1)
		e.logger.Warn("generation failed, retrying", map[string]interface{}{
			"attempt":   attempt,
			"backoffMs": backoff.Milliseconds(),
			"error":     err.Error(),
		})
		if err := e.sleep(ctx, backoff); err != nil {
			return nil, attempt, callerError(err)
		}
	}
}

// callerError keeps cancellation distinguishable and reports an expired
// caller deadline as a backend timeout.
func callerError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewBackendTimeoutError(err)
	}
	return err
}

// refund returns the question admitted for t. It runs even when ctx is
// cancelled.
func (e *Engine) refund(ctx context.Context, t *turn, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.Quota.Release(ctx, t.conv.UserID, t.tier, t.conv.AnalysisID); err != nil {
		e.logger.Error("quota refund failed", map[string]interface{}{
			"conversationId": t.conv.ID,
			"userId":         t.conv.UserID,
			"error":          err.Error(),
		})
		return
	}
	e.logger.Info("turn not answered, quota refunded", map[string]interface{}{
		"conversationId": t.conv.ID,
		"userId":         t.conv.UserID,
		"cause":          cause.Error(),
	})
}

func (e *Engine) finish(span trace.Span, start time.Time, err error) {
	outcome := outcomeOf(err)
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil && outcome == "failed" {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
	}
	span.End()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "answered"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case apperrors.Is(err, apperrors.ErrCodeQuotaExceeded):
		return "quota_exceeded"
	case apperrors.Is(err, apperrors.ErrCodeTurnInProgress):
		return "rejected"
	case apperrors.Is(err, apperrors.ErrCodeInvalidInput), apperrors.Is(err, apperrors.ErrCodeNotFound):
		return "invalid"
	default:
		return "failed"
	}
}
