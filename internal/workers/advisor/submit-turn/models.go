package submitturn

import "gap-advisor/internal/models"

type Input struct {
	UserID     string `json:"userId"`
	AnalysisID string `json:"analysisId"`
	Message    string `json:"message"`
	// TurnID defaults to the job key, which Zeebe keeps across retries.
	TurnID string `json:"turnId,omitempty"`
}

type Output struct {
	ConversationID     string                     `json:"conversationId"`
	UserMessageID      string                     `json:"userMessageId"`
	AssistantMessageID string                     `json:"assistantMessageId"`
	Answer             string                     `json:"answer"`
	Metadata           models.AssistantMetadata   `json:"metadata"`
	Quota              models.QuotaDecision       `json:"quota"`
	Reanalysis         Reanalysis                 `json:"reanalysis"`
	Suggestions        []models.SuggestedQuestion `json:"suggestions"`
}

// Reanalysis is the variant proposal the process shows for confirmation.
type Reanalysis struct {
	Proposed           bool              `json:"proposed"`
	Confidence         int               `json:"confidence"`
	ModifiedParameters map[string]string `json:"modifiedParameters,omitempty"`
	ConfirmationPrompt string            `json:"confirmationPrompt,omitempty"`
}
