package openconversation

import "gap-advisor/internal/models"

type Input struct {
	UserID     string `json:"userId"`
	AnalysisID string `json:"analysisId"`
}

type Output struct {
	ConversationID string                     `json:"conversationId"`
	AnalysisID     string                     `json:"analysisId"`
	AnalysisTitle  string                     `json:"analysisTitle"`
	BaseAnalysisID string                     `json:"baseAnalysisId,omitempty"`
	VariantIDs     []string                   `json:"variantIds"`
	Messages       []models.Message           `json:"messages"`
	Quota          models.QuotaStatus         `json:"quota"`
	Suggestions    []models.SuggestedQuestion `json:"suggestions"`
}
