package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestObservability_SpansAndJobMetrics(t *testing.T) {
	reg := promclient.NewRegistry()
	spans := tracetest.NewSpanRecorder()

	o, err := New("gap-advisor-test", WithRegisterer(reg), WithSpanProcessor(spans), WithoutGlobal())
	require.NoError(t, err)
	defer func() { _ = o.Shutdown(context.Background()) }()

	_, span := o.StartSpan(context.Background(), "advisor.turn", attribute.String("conversationId", "c-1"))
	span.End()

	o.RecordJobProcessed(context.Background(), "submit-turn", "completed")
	o.RecordJobDuration(context.Background(), "submit-turn", 120*time.Millisecond, "completed")

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "advisor.turn", ended[0].Name())

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "jobs_processed")
	assert.Contains(t, joined, "jobs_duration")
}

func TestObservability_NilSafe(t *testing.T) {
	var o *Observability

	ctx, span := o.StartSpan(context.Background(), "noop")
	span.End()
	assert.NotNil(t, ctx)

	o.RecordJobProcessed(context.Background(), "t", "ok")
	assert.NoError(t, o.Shutdown(context.Background()))
}
