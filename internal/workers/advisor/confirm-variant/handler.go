package confirmvariant

import (
	"context"

	"gap-advisor/internal/advisor/variant"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/validation"
	"gap-advisor/internal/workers/advisor/jobs"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "advisor-confirm-variant"

var inputSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["userId", "conversationId", "modifiedParameters"],
  "properties": {
    "userId": {"type": "string", "minLength": 1},
    "conversationId": {"type": "string", "minLength": 1},
    "modifiedParameters": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"type": "string", "minLength": 1}
    }
  }
}`)

type Confirmer interface {
	ConfirmVariant(ctx context.Context, userID, conversationID string, params map[string]string) (*variant.BranchResult, error)
}

type Handler struct {
	config   *Config
	engine   Confirmer
	reporter *jobs.Reporter
	logger   logger.Logger
}

func NewHandler(config *Config, eng Confirmer, log logger.Logger) *Handler {
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
	res, err := h.engine.ConfirmVariant(ctx, input.UserID, input.ConversationID, input.ModifiedParameters)
	if err != nil {
		return nil, err
	}
	return &Output{
		OriginalConversationID: res.Original.ID,
		VariantConversationID:  res.Variant.ID,
		VariantAnalysisID:      res.Analysis.ID,
		BaseAnalysisID:         res.Analysis.BaseAnalysisID,
		Parameters:             res.Analysis.Parameters,
		VariantIDs:             res.Original.VariantIDs,
	}, nil
}
