package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the speaker name used in prompts and exports.
func (r Role) Label() string {
	if r == RoleAssistant {
		return "AI"
	}
	return "User"
}

// Conversation is a per-(user, analysis) chat session. AnalysisID never
// changes after creation.
type Conversation struct {
	ID         string    `json:"id"`
	AnalysisID string    `json:"analysisId"`
	UserID     string    `json:"userId"`
	VariantIDs []string  `json:"variantIds"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Message is append-only; Seq orders messages within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Seq            int64     `json:"seq"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Metadata       Metadata  `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// VariantLink is a directed edge from a conversation to the sibling created by
// re-running its analysis with ModifiedParameters.
type VariantLink struct {
	OriginalID         string            `json:"originalId"`
	VariantID          string            `json:"variantId"`
	ModifiedParameters map[string]string `json:"modifiedParameters"`
	CreatedAt          time.Time         `json:"createdAt"`
}

// SuggestedQuestion is recomputed after every assistant turn and never stored.
type SuggestedQuestion struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
}
