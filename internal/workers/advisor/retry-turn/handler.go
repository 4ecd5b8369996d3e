package retryturn

import (
	"context"

	"gap-advisor/internal/advisor/engine"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/validation"
	"gap-advisor/internal/workers/advisor/jobs"
	submitturn "gap-advisor/internal/workers/advisor/submit-turn"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "advisor-retry-turn"

var inputSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["userId", "conversationId"],
  "properties": {
    "userId": {"type": "string", "minLength": 1},
    "conversationId": {"type": "string", "minLength": 1}
  }
}`)

type TurnRetrier interface {
	RetryTurn(ctx context.Context, userID, conversationID string) (*engine.TurnResult, error)
}

type Handler struct {
	config   *Config
	engine   TurnRetrier
	reporter *jobs.Reporter
	logger   logger.Logger
}

func NewHandler(config *Config, eng TurnRetrier, log logger.Logger) *Handler {
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
	res, err := h.engine.RetryTurn(ctx, input.UserID, input.ConversationID)
	if err != nil {
		return nil, err
	}
	return submitturn.NewOutput(res), nil
}
