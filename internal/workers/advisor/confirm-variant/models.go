package confirmvariant

type Input struct {
	UserID             string            `json:"userId"`
	ConversationID     string            `json:"conversationId"`
	ModifiedParameters map[string]string `json:"modifiedParameters"`
}

type Output struct {
	OriginalConversationID string            `json:"originalConversationId"`
	VariantConversationID  string            `json:"variantConversationId"`
	VariantAnalysisID      string            `json:"variantAnalysisId"`
	BaseAnalysisID         string            `json:"baseAnalysisId"`
	Parameters             map[string]string `json:"parameters"`
	VariantIDs             []string          `json:"variantIds"`
}
