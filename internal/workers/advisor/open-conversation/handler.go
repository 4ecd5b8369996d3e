package openconversation

import (
	"context"

	"gap-advisor/internal/advisor/engine"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/validation"
	"gap-advisor/internal/workers/advisor/jobs"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// TaskType also serves variant switching: opening a variant analysis
// returns its own conversation.
const TaskType = "advisor-open-conversation"

var inputSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["userId", "analysisId"],
  "properties": {
    "userId": {"type": "string", "minLength": 1},
    "analysisId": {"type": "string", "minLength": 1}
  }
}`)

type Opener interface {
	OpenConversation(ctx context.Context, userID, analysisID string) (*engine.ConversationView, error)
}

type Handler struct {
	config   *Config
	engine   Opener
	reporter *jobs.Reporter
	logger   logger.Logger
}

func NewHandler(config *Config, eng Opener, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		engine:   eng,
		reporter: jobs.NewReporter(TaskType, log),
		logger:   log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := jobs.Decode(job.Variables, inputSchema, &input); err != nil {
		h.reporter.Fail(client, job, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.reporter.Fail(client, job, err)
		return
	}
	h.reporter.Complete(client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	view, err := h.engine.OpenConversation(ctx, input.UserID, input.AnalysisID)
	if err != nil {
		return nil, err
	}

	out := &Output{
		ConversationID: view.Conversation.ID,
		AnalysisID:     view.Conversation.AnalysisID,
		VariantIDs:     view.Conversation.VariantIDs,
		Messages:       view.Messages,
		Quota:          view.Quota,
		Suggestions:    view.Suggestions,
	}
	if view.Analysis != nil {
		out.AnalysisTitle = view.Analysis.Title
		out.BaseAnalysisID = view.Analysis.BaseAnalysisID
	}
	return out, nil
}
