package exportconversation

type Input struct {
	UserID          string `json:"userId"`
	ConversationID  string `json:"conversationId"`
	Format          string `json:"format"`
	IncludeAnalysis bool   `json:"includeAnalysis"`
	EmailTo         string `json:"emailTo,omitempty"`
}

// Output carries either a download URL (pdf) or the document itself
// (markdown, json).
type Output struct {
	Format       string `json:"format"`
	FileName     string `json:"fileName"`
	ContentType  string `json:"contentType"`
	URL          string `json:"url,omitempty"`
	Content      string `json:"content,omitempty"`
	Size         int    `json:"size"`
	MessageCount int    `json:"messageCount"`
	Emailed      bool   `json:"emailed"`
}
