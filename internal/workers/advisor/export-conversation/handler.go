package exportconversation

import (
	"context"
	"fmt"

	"gap-advisor/internal/advisor/export"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/validation"
	"gap-advisor/internal/workers/advisor/jobs"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "advisor-export-conversation"

var inputSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["userId", "conversationId", "format"],
  "properties": {
    "userId": {"type": "string", "minLength": 1},
    "conversationId": {"type": "string", "minLength": 1},
    "format": {"type": "string", "enum": ["markdown", "md", "json", "pdf"]},
    "includeAnalysis": {"type": "boolean"},
    "emailTo": {"type": "string", "format": "email"}
  }
}`)

type Exporter interface {
	Export(ctx context.Context, userID, conversationID string, format export.Format, opts export.Options) (*export.Result, error)
}

// Mailer is satisfied by the SES client.
type Mailer interface {
	SendText(ctx context.Context, from, to, subject, body string) error
}

type Handler struct {
	config   *Config
	engine   Exporter
	mailer   Mailer
	reporter *jobs.Reporter
	logger   logger.Logger
}

// NewHandler accepts a nil mailer; emailTo is then ignored.
func NewHandler(config *Config, eng Exporter, mailer Mailer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		engine:   eng,
		mailer:   mailer,
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
	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, err
	}

	res, err := h.engine.Export(ctx, input.UserID, input.ConversationID, format, export.Options{
		IncludeAnalysis: input.IncludeAnalysis,
	})
	if err != nil {
		return nil, err
	}

	out := &Output{
		Format:       string(res.Format),
		FileName:     res.FileName,
		ContentType:  res.ContentType,
		URL:          res.URL,
		Content:      string(res.Content),
		Size:         res.Size,
		MessageCount: res.MessageCount,
	}

	if input.EmailTo != "" {
		out.Emailed = h.email(ctx, input, res)
	}
	return out, nil
}

// email sends the export to the user. A delivery failure does not fail the
// export: the artifact already exists and is returned in the job output.
func (h *Handler) email(ctx context.Context, input *Input, res *export.Result) bool {
	if h.mailer == nil || h.config.FromEmail == "" {
		h.logger.Warn("export e-mail requested but no mailer configured", map[string]interface{}{
			"conversationId": input.ConversationID,
		})
		return false
	}

	subject := fmt.Sprintf("Your conversation export (%s)", res.Format)
	var body string
	if res.URL != "" {
		body = fmt.Sprintf("Your export %s is ready:\n\n%s\n", res.FileName, res.URL)
	} else {
		body = fmt.Sprintf("Your export %s is below.\n\n%s", res.FileName, res.Content)
	}

	if err := h.mailer.SendText(ctx, h.config.FromEmail, input.EmailTo, subject, body); err != nil {
		h.logger.Error("export e-mail failed", map[string]interface{}{
			"conversationId": input.ConversationID,
			"error":          err.Error(),
		})
		return false
	}
	return true
}
