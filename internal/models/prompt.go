package models

// PromptPackage is the bounded payload sent to the completion backend for one
// turn.
type PromptPackage struct {
	SystemPrompt        string `json:"systemPrompt"`
	AnalysisContext     string `json:"analysisContext"`
	ConversationHistory string `json:"conversationHistory"`
	CurrentQuery        string `json:"currentQuery"`
	TotalTokens         int    `json:"totalTokens"`
	Summarized          bool   `json:"summarized"`
	SummarizedCount     int    `json:"summarizedCount"`
	VerbatimCount       int    `json:"verbatimCount"`
}

// Completion is what the backend returns for a prompt.
type Completion struct {
	Content          string     `json:"content"`
	TokensUsed       TokenUsage `json:"tokensUsed"`
	ProcessingTimeMs int64      `json:"processingTimeMs"`
}
