// Package jobs holds the job plumbing shared by the advisor workers: variable
// decoding with schema validation, completion and error reporting.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/metrics"
	"gap-advisor/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const sendTimeout = 10 * time.Second

type Reporter struct {
	taskType string
	logger   logger.Logger
	errors   *apperrors.ErrorHandler
}

func NewReporter(taskType string, log logger.Logger) *Reporter {
	return &Reporter{
		taskType: taskType,
		logger:   log,
		errors:   apperrors.NewErrorHandler(log),
	}
}

// Decode validates the job variables against schema and unmarshals them
// into v. Both failures are INVALID_INPUT.
func Decode(variables string, schema *validation.Schema, v interface{}) error {
	if schema != nil {
		if err := schema.ValidateJSON([]byte(variables)).Err(); err != nil {
			return apperrors.NewInvalidInputError(err.Error())
		}
	}
	if err := json.Unmarshal([]byte(variables), v); err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	return nil
}

func (r *Reporter) Complete(client worker.JobClient, job entities.Job, output interface{}) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		r.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		r.Fail(client, job, apperrors.NewInternalError(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if _, err := cmd.Send(ctx); err != nil {
		r.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(r.taskType).Inc()
	r.logger.Info("job completed", map[string]interface{}{"jobKey": job.Key})
}

// Fail hands err to the shared error handler, which fails the job with
// retries or throws a BPMN error depending on the code.
func (r *Reporter) Fail(client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(r.taskType, string(apperrors.CodeOf(err))).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	r.errors.HandleJobError(ctx, client, job, err)
}
