package submitturn

import (
	"context"
	"strconv"

	"gap-advisor/internal/advisor/engine"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/validation"
	"gap-advisor/internal/models"
	"gap-advisor/internal/workers/advisor/jobs"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "advisor-submit-turn"

var inputSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["userId", "analysisId", "message"],
  "properties": {
    "userId": {"type": "string", "minLength": 1},
    "analysisId": {"type": "string", "minLength": 1},
    "message": {"type": "string"},
    "turnId": {"type": "string"}
  }
}`)

type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
}

type Handler struct {
	config   *Config
	engine   TurnSubmitter
	reporter *jobs.Reporter
	logger   logger.Logger
}

func NewHandler(config *Config, eng TurnSubmitter, log logger.Logger) *Handler {
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
	input.TurnID = turnID(job, input.TurnID)

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
	res, err := h.engine.SubmitTurn(ctx, engine.TurnRequest{
		UserID:     input.UserID,
		AnalysisID: input.AnalysisID,
		Text:       input.Message,
		TurnID:     input.TurnID,
	})
	if err != nil {
		return nil, err
	}
	return NewOutput(res), nil
}

// turnID prefers an explicit process variable so a process that re-creates
// the job can still dedupe; otherwise the job key identifies the turn.
func turnID(job entities.Job, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strconv.FormatInt(job.Key, 10)
}

func NewOutput(res *engine.TurnResult) *Output {
	out := &Output{
		ConversationID:     res.Conversation.ID,
		UserMessageID:      res.UserMessage.ID,
		AssistantMessageID: res.AssistantMessage.ID,
		Answer:             res.AssistantMessage.Content,
		Quota:              res.Quota,
		Suggestions:        res.Suggestions,
		Reanalysis: Reanalysis{
			Proposed:   res.Detection.IsReanalysisRequest,
			Confidence: res.Detection.Confidence,
		},
	}
	if meta, ok := res.AssistantMessage.Metadata.(models.AssistantMetadata); ok {
		out.Metadata = meta
	}
	if res.Detection.IsReanalysisRequest {
		out.Reanalysis.ModifiedParameters = res.Detection.ModifiedParameters
		out.Reanalysis.ConfirmationPrompt = res.Detection.ConfirmationPrompt
	}
	return out
}
