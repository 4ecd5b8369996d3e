package variant

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	commonhttp "gap-advisor/internal/common/http"
	"gap-advisor/internal/models"
)

// Classification is a classifier's view of a message. Confidence is 0-100.
type Classification struct {
	Reanalysis bool
	Confidence int
	Parameters map[string]string
}

// Classifier is a second opinion for messages the heuristic cannot decide.
type Classifier interface {
	Classify(ctx context.Context, message string, analysis *models.Analysis) (*Classification, error)
}

// HTTPClassifier calls the GenAI intent endpoint.
type HTTPClassifier struct {
	client  *commonhttp.Client
	timeout time.Duration
}

func NewHTTPClassifier(baseURL, apiKey string, timeout time.Duration) *HTTPClassifier {
	client := commonhttp.NewClient(0).WithBaseURL(baseURL)
	if apiKey != "" {
		client = client.WithHeader("Authorization", "Bearer "+apiKey)
	}
	return &HTTPClassifier{client: client, timeout: timeout}
}

type intentRequest struct {
	Query   string                 `json:"query"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type intentEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type intentResponse struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Entities   []intentEntity `json:"entities"`
}

// reanalysisIntents are the intent labels the endpoint uses for parameter
// changes.
var reanalysisIntents = map[string]bool{
	"reanalysis":        true,
	"modify_parameters": true,
	"change_parameters": true,
}

// entityParams maps endpoint entity types onto analysis parameters.
var entityParams = map[string]string{
	"location":          models.ParamMarket,
	"market":            models.ParamMarket,
	"investment_amount": models.ParamBudget,
	"budget":            models.ParamBudget,
	"audience":          models.ParamAudience,
	"category":          models.ParamIndustry,
	"industry":          models.ParamIndustry,
}

func (c *HTTPClassifier) Classify(ctx context.Context, message string, analysis *models.Analysis) (*Classification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := intentRequest{Query: message}
	if analysis != nil {
		req.Context = map[string]interface{}{
			"analysisId": analysis.ID,
			"parameters": analysis.Parameters,
		}
	}

	var resp intentResponse
	if err := c.client.PostJSON(ctx, "/api/ai/parse-intent", req, &resp); err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}

	conf := resp.Confidence
	if conf <= 1 {
		conf *= 100
	}
	out := &Classification{
		Reanalysis: reanalysisIntents[strings.ToLower(resp.Intent)],
		Confidence: clamp(int(math.Round(conf))),
		Parameters: map[string]string{},
	}
	for _, e := range resp.Entities {
		if key, ok := entityParams[strings.ToLower(e.Type)]; ok && strings.TrimSpace(e.Value) != "" {
			if _, seen := out.Parameters[key]; !seen {
				out.Parameters[key] = strings.TrimSpace(e.Value)
			}
		}
	}
	return out, nil
}
