package suggestquestions

import "gap-advisor/internal/models"

type Input struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type Output struct {
	Suggestions []models.SuggestedQuestion `json:"suggestions"`
}
