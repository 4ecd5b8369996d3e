// Package analysis loads analyses from Elasticsearch and generates parameter
// variants through the GenAI service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "gap-advisor/internal/common/errors"
	httpclient "gap-advisor/internal/common/http"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
)

const (
	DefaultIndex = "analyses"
	generatePath = "/api/analysis/generate"
)

// ESProvider reads analyses from an index and writes generated variants back
// to it.
type ESProvider struct {
	es        *elasticsearch.Client
	index     string
	generator *httpclient.Client
	now       func() time.Time
	logger    logger.Logger
}

func NewESProvider(es *elasticsearch.Client, index string, generator *httpclient.Client, log logger.Logger) *ESProvider {
	if index == "" {
		index = DefaultIndex
	}
	return &ESProvider{
		es:        es,
		index:     index,
		generator: generator,
		now:       time.Now,
		logger:    log.WithFields(map[string]interface{}{"component": "analysis-provider"}),
	}
}

type getResponse struct {
	Found  bool            `json:"found"`
	Source models.Analysis `json:"_source"`
}

func (p *ESProvider) GetAnalysis(ctx context.Context, analysisID string) (*models.Analysis, error) {
	if analysisID == "" {
		return nil, apperrors.NewInvalidInputError("analysisId is required")
	}

	res, err := p.es.Get(p.index, analysisID, p.es.Get.WithContext(ctx))
	if err != nil {
		return nil, apperrors.NewAnalysisUnavailableError(err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, apperrors.NewNotFoundError("analysis", analysisID)
	}
	if res.IsError() {
		return nil, apperrors.NewAnalysisUnavailableError(fmt.Errorf("get %s: %s", analysisID, res.Status()))
	}

	var doc getResponse
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, apperrors.NewAnalysisUnavailableError(fmt.Errorf("decode %s: %w", analysisID, err))
	}
	if !doc.Found {
		return nil, apperrors.NewNotFoundError("analysis", analysisID)
	}
	if doc.Source.ID == "" {
		doc.Source.ID = analysisID
	}
	return &doc.Source, nil
}

type generateRequest struct {
	BaseAnalysisID string            `json:"baseAnalysisId"`
	UserID         string            `json:"userId"`
	Title          string            `json:"title"`
	Parameters     map[string]string `json:"parameters"`
}

// CreateAnalysis re-runs the base analysis with params overlaid on its
// parameters and indexes the result.
func (p *ESProvider) CreateAnalysis(ctx context.Context, baseAnalysisID string, params map[string]string) (*models.Analysis, error) {
	base, err := p.GetAnalysis(ctx, baseAnalysisID)
	if err != nil {
		return nil, err
	}

	req := generateRequest{
		BaseAnalysisID: base.ID,
		UserID:         base.UserID,
		Title:          base.Title,
		Parameters:     models.MergeParameters(base.Parameters, params),
	}

	var generated models.Analysis
	if err := p.generator.PostJSON(ctx, generatePath, req, &generated); err != nil {
		return nil, apperrors.NewAnalysisUnavailableError(fmt.Errorf("generate variant of %s: %w", base.ID, err))
	}

	if generated.ID == "" {
		generated.ID = uuid.New().String()
	}
	if generated.UserID == "" {
		generated.UserID = base.UserID
	}
	if generated.Title == "" {
		generated.Title = base.Title
	}
	generated.BaseAnalysisID = base.ID
	generated.Parameters = req.Parameters
	if generated.CreatedAt.IsZero() {
		generated.CreatedAt = p.now().UTC()
	}

	if err := p.put(ctx, &generated); err != nil {
		return nil, err
	}

	p.logger.Info("analysis variant created", map[string]interface{}{
		"analysisId":     generated.ID,
		"baseAnalysisId": base.ID,
		"parameters":     params,
	})
	return &generated, nil
}

func (p *ESProvider) put(ctx context.Context, a *models.Analysis) error {
	body, err := json.Marshal(a)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	res, err := p.es.Index(p.index, bytes.NewReader(body),
		p.es.Index.WithDocumentID(a.ID),
		p.es.Index.WithRefresh("wait_for"),
		p.es.Index.WithContext(ctx),
	)
	if err != nil {
		return apperrors.NewAnalysisUnavailableError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewAnalysisUnavailableError(errors.New("index " + a.ID + ": " + res.Status()))
	}
	return nil
}
