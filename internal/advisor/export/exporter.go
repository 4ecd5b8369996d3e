package export

import (
	"context"
	"fmt"
	"time"

	"gap-advisor/internal/advisor/store"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/metrics"
	"gap-advisor/internal/models"
)

type Options struct {
	IncludeAnalysis bool
}

// Result carries markdown and JSON inline; PDF is stored in the sink and
// only its URL is returned.
type Result struct {
	Format       Format `json:"format"`
	ContentType  string `json:"contentType"`
	FileName     string `json:"fileName"`
	Content      []byte `json:"content,omitempty"`
	URL          string `json:"url,omitempty"`
	Size         int    `json:"size"`
	MessageCount int    `json:"messageCount"`
}

// AnalysisGetter loads the analysis a conversation is anchored to.
type AnalysisGetter interface {
	GetAnalysis(ctx context.Context, analysisID string) (*models.Analysis, error)
}

type Exporter struct {
	store     store.Store
	analyses  AnalysisGetter
	renderers map[Format]Renderer
	sink      ArtifactSink
	now       func() time.Time
	logger    logger.Logger
}

func NewExporter(s store.Store, analyses AnalysisGetter, sink ArtifactSink, log logger.Logger) *Exporter {
	return &Exporter{
		store:    s,
		analyses: analyses,
		renderers: map[Format]Renderer{
			FormatMarkdown: MarkdownRenderer{},
			FormatJSON:     JSONRenderer{},
			FormatPDF:      NewPDFRenderer(),
		},
		sink:   sink,
		now:    time.Now,
		logger: log.WithFields(map[string]interface{}{"component": "exporter"}),
	}
}

// SetRenderer replaces the renderer used for format.
func (e *Exporter) SetRenderer(format Format, r Renderer) {
	e.renderers[format] = r
}

// Document assembles the full, untruncated conversation.
func (e *Exporter) Document(ctx context.Context, conversationID string, opts Options) (*Document, error) {
	conv, err := e.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.store.GetMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Conversation: *conv,
		Messages:     msgs,
		ExportedAt:   e.now().UTC(),
	}
	if opts.IncludeAnalysis {
		if doc.Analysis, err = e.analyses.GetAnalysis(ctx, conv.AnalysisID); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (e *Exporter) Export(ctx context.Context, conversationID string, format Format, opts Options) (*Result, error) {
	renderer, ok := e.renderers[format]
	if !ok {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unsupported export format %q", format))
	}

	doc, err := e.Document(ctx, conversationID, opts)
	if err != nil {
		metrics.Exports.WithLabelValues(string(format), "error").Inc()
		return nil, err
	}

	data, err := renderer.Render(doc)
	if err != nil {
		metrics.Exports.WithLabelValues(string(format), "error").Inc()
		return nil, apperrors.NewExportFailedError(string(format), err)
	}

	res := &Result{
		Format:       format,
		ContentType:  renderer.ContentType(),
		FileName:     fmt.Sprintf("conversation-%s-%s.%s", conversationID, doc.ExportedAt.Format("20060102-150405"), renderer.Extension()),
		Size:         len(data),
		MessageCount: len(doc.Messages),
	}

	if format == FormatPDF {
		if e.sink == nil {
			return nil, apperrors.NewExportFailedError(string(format), fmt.Errorf("no artifact sink configured"))
		}
		url, err := e.sink.Put(ctx, res.FileName, res.ContentType, data)
		if err != nil {
			metrics.Exports.WithLabelValues(string(format), "error").Inc()
			return nil, apperrors.NewArtifactUploadFailedError(err)
		}
		res.URL = url
	} else {
		res.Content = data
	}

	metrics.Exports.WithLabelValues(string(format), "ok").Inc()
	e.logger.Info("conversation exported", map[string]interface{}{
		"conversationId":  conversationID,
		"format":          format,
		"messages":        res.MessageCount,
		"bytes":           res.Size,
		"includeAnalysis": opts.IncludeAnalysis,
	})
	return res, nil
}
