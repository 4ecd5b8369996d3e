// Package completion talks to the GenAI generation endpoint.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"gap-advisor/internal/advisor/contextwindow"
	apperrors "gap-advisor/internal/common/errors"
	httpclient "gap-advisor/internal/common/http"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/metrics"
	"gap-advisor/internal/models"
)

const generatePath = "/api/ai/generate"

type Options struct {
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
}

// HTTPBackend makes exactly one request per Generate call. Deadlines come
// from the caller's context; retries belong to the caller.
type HTTPBackend struct {
	client *httpclient.Client
	opts   Options
	logger logger.Logger
}

func NewHTTPBackend(opts Options, log logger.Logger) *HTTPBackend {
	return &HTTPBackend{
		client: httpclient.NewClient(0).WithBaseURL(opts.BaseURL).WithHeader("X-API-Key", opts.APIKey),
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"component": "completion"}),
	}
}

type generateRequest struct {
	SystemPrompt string          `json:"systemPrompt,omitempty"`
	Prompt       string          `json:"prompt"`
	Context      generateContext `json:"context"`
	MaxTokens    int             `json:"max_tokens,omitempty"`
	Temperature  float64         `json:"temperature,omitempty"`
}

type generateContext struct {
	Analysis string `json:"analysis,omitempty"`
	History  string `json:"history,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Usage *struct {
		PromptTokens     int `json:"promptTokens"`
		CompletionTokens int `json:"completionTokens"`
		TotalTokens      int `json:"totalTokens"`
	} `json:"usage"`
}

func (b *HTTPBackend) Generate(ctx context.Context, pkg *models.PromptPackage) (*models.Completion, error) {
	if pkg == nil {
		return nil, apperrors.NewInvalidInputError("prompt package is nil")
	}

	req := generateRequest{
		SystemPrompt: pkg.SystemPrompt,
		Prompt:       pkg.CurrentQuery,
		Context: generateContext{
			Analysis: pkg.AnalysisContext,
			History:  pkg.ConversationHistory,
		},
		MaxTokens:   b.opts.MaxTokens,
		Temperature: b.opts.Temperature,
	}

	start := time.Now()
	var resp generateResponse
	err := b.client.PostJSON(ctx, generatePath, req, &resp)
	elapsed := time.Since(start)

	if err != nil {
		mapped := b.classify(ctx, err)
		result := string(apperrors.CodeOf(mapped))
		if errors.Is(mapped, context.Canceled) {
			result = "cancelled"
		}
		metrics.BackendCalls.WithLabelValues(result).Inc()
		b.logger.Warn("generation request failed", map[string]interface{}{
			"error":      err.Error(),
			"result":     result,
			"durationMs": elapsed.Milliseconds(),
		})
		return nil, mapped
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		metrics.BackendCalls.WithLabelValues(string(apperrors.ErrCodeBackendUnavailable)).Inc()
		return nil, apperrors.NewBackendUnavailableError(errors.New("empty completion"))
	}

	out := &models.Completion{
		Content:          text,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	if resp.Usage != nil {
		out.TokensUsed = models.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
			Total:  resp.Usage.TotalTokens,
		}
	} else {
		out.TokensUsed.Input = pkg.TotalTokens
		out.TokensUsed.Output = contextwindow.EstimateTokens(text)
	}
	if out.TokensUsed.Total == 0 {
		out.TokensUsed.Total = out.TokensUsed.Input + out.TokensUsed.Output
	}

	metrics.BackendCalls.WithLabelValues("ok").Inc()
	return out, nil
}

// classify maps transport failures onto the backend error codes. A caller
// cancellation is returned as is so the engine can tell it apart from a
// backend fault.
func (b *HTTPBackend) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewBackendTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewBackendTimeoutError(err)
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Temporary() {
			return apperrors.NewBackendUnavailableError(err)
		}
		return apperrors.NewInternalError(fmt.Errorf("generation rejected: %w", err))
	}
	return apperrors.NewBackendUnavailableError(err)
}
