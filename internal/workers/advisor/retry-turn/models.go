package retryturn

import submitturn "gap-advisor/internal/workers/advisor/submit-turn"

type Input struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// Output has the same shape as a submitted turn so the process can route
// both through one answer gateway.
type Output = submitturn.Output
