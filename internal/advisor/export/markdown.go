package export

import (
	"strings"
	"time"
)

type MarkdownRenderer struct{}

func (MarkdownRenderer) ContentType() string { return "text/markdown; charset=utf-8" }
func (MarkdownRenderer) Extension() string   { return "md" }

func (MarkdownRenderer) Render(doc *Document) ([]byte, error) {
	var b strings.Builder

	b.WriteString("# Conversation export\n\n")
	b.WriteString("- Conversation: " + doc.Conversation.ID + "\n")
	b.WriteString("- Analysis: " + doc.Conversation.AnalysisID + "\n")
	b.WriteString("- Exported: " + doc.ExportedAt.UTC().Format(time.RFC3339) + "\n\n")

	if sections := AnalysisSections(doc.Analysis); len(sections) > 0 {
		b.WriteString("## Analysis summary\n\n")
		for _, s := range sections {
			b.WriteString("### " + s.Title + "\n\n")
			for _, line := range s.Lines {
				b.WriteString("- " + line + "\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Conversation\n\n")
	for _, blk := range doc.Blocks() {
		b.WriteString("**" + blk.Speaker + ":**\n\n")
		b.WriteString(blk.Text)
		b.WriteString("\n\n")
	}

	return []byte(b.String()), nil
}
