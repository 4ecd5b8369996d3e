// Package export renders whole conversations as markdown, JSON or PDF.
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/models"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts the format names and the "md" shorthand.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("unsupported export format %q", s))
	}
}

// Document is the logical content shared by every renderer. Analysis is nil
// unless it was requested.
type Document struct {
	Conversation models.Conversation
	Messages     []models.Message
	Analysis     *models.Analysis
	ExportedAt   time.Time
}

// Block is one rendered message.
type Block struct {
	Speaker string
	Text    string
}

// Blocks lists the messages in order with their speaker labels.
func (d *Document) Blocks() []Block {
	out := make([]Block, len(d.Messages))
	for i, m := range d.Messages {
		out[i] = Block{Speaker: m.Role.Label(), Text: m.Content}
	}
	return out
}

// Section is a titled group of analysis lines.
type Section struct {
	Title string
	Lines []string
}

// AnalysisSections is the analysis summary rendered by markdown and PDF.
func AnalysisSections(a *models.Analysis) []Section {
	if a == nil {
		return nil
	}

	overview := []string{fmt.Sprintf("%s (score %.0f/100)", a.Title, a.Score)}
	if a.Summary != "" {
		overview = append(overview, a.Summary)
	}
	sections := []Section{{Title: "Overview", Lines: overview}}

	if len(a.Parameters) > 0 {
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, len(keys))
		for i, k := range keys {
			lines[i] = fmt.Sprintf("%s: %s", k, a.Parameters[k])
		}
		sections = append(sections, Section{Title: "Parameters", Lines: lines})
	}

	if len(a.Gaps) > 0 {
		lines := make([]string, len(a.Gaps))
		for i, g := range a.Gaps {
			lines[i] = g.Title
			if g.Description != "" {
				lines[i] += ": " + g.Description
			}
		}
		sections = append(sections, Section{Title: "Gaps", Lines: lines})
	}

	if len(a.Competitors) > 0 {
		lines := make([]string, len(a.Competitors))
		for i, c := range a.Competitors {
			lines[i] = c.Name
			if c.Weakness != "" {
				lines[i] += ": " + c.Weakness
			}
		}
		sections = append(sections, Section{Title: "Competitors", Lines: lines})
	}

	if len(a.ActionPlan) > 0 {
		lines := make([]string, len(a.ActionPlan))
		for i, step := range a.ActionPlan {
			lines[i] = fmt.Sprintf("%d. %s", i+1, step)
		}
		sections = append(sections, Section{Title: "Action plan", Lines: lines})
	}
	return sections
}

// Renderer turns a Document into bytes of one format.
type Renderer interface {
	Render(doc *Document) ([]byte, error)
	ContentType() string
	Extension() string
}
