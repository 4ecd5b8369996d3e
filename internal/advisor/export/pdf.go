package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// PDFRenderer lays out the same blocks as the markdown export on A4 pages.
// With no FontPath it uses the core Helvetica font, which only covers
// Windows-1252: other characters print as '.'. Markdown and JSON exports are
// always lossless.
type PDFRenderer struct {
	// Compress deflates page streams; tests turn it off to inspect text.
	Compress bool
	// FontPath and BoldFontPath name a UTF-8 TrueType font. BoldFontPath
	// defaults to FontPath.
	FontPath     string
	BoldFontPath string
}

const utf8Family = "advisor"

func NewPDFRenderer() PDFRenderer {
	return PDFRenderer{Compress: true}
}

func (PDFRenderer) ContentType() string { return "application/pdf" }
func (PDFRenderer) Extension() string   { return "pdf" }

func (r PDFRenderer) Render(doc *Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.Compress)
	pdf.SetTitle("Conversation "+doc.Conversation.ID, true)
	pdf.SetCreator("gap-advisor", true)
	pdf.SetCreationDate(doc.ExportedAt)
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)

	family, tr := "Helvetica", pdf.UnicodeTranslatorFromDescriptor("")
	if r.FontPath != "" {
		bold := r.BoldFontPath
		if bold == "" {
			bold = r.FontPath
		}
		pdf.AddUTF8Font(utf8Family, "", r.FontPath)
		pdf.AddUTF8Font(utf8Family, "B", bold)
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("load pdf font: %w", err)
		}
		family, tr = utf8Family, func(s string) string { return s }
	}

	pdf.AddPage()
	pdf.SetFont(family, "B", 16)
	pdf.MultiCell(0, 8, "Conversation export", "", "L", false)
	pdf.SetFont(family, "", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(0, 5, tr("Conversation: "+doc.Conversation.ID), "", "L", false)
	pdf.MultiCell(0, 5, tr("Analysis: "+doc.Conversation.AnalysisID), "", "L", false)
	pdf.MultiCell(0, 5, "Exported: "+doc.ExportedAt.UTC().Format(time.RFC3339), "", "L", false)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	if sections := AnalysisSections(doc.Analysis); len(sections) > 0 {
		pdf.SetFont(family, "B", 13)
		pdf.MultiCell(0, 7, "Analysis summary", "", "L", false)
		for _, s := range sections {
			pdf.SetFont(family, "B", 11)
			pdf.MultiCell(0, 6, tr(s.Title), "", "L", false)
			pdf.SetFont(family, "", 10)
			for _, line := range s.Lines {
				pdf.MultiCell(0, 5, tr("- "+line), "", "L", false)
			}
			pdf.Ln(2)
		}
		pdf.Ln(2)
	}

	pdf.SetFont(family, "B", 13)
	pdf.MultiCell(0, 7, "Conversation", "", "L", false)
	for _, blk := range doc.Blocks() {
		pdf.SetFont(family, "B", 10)
		pdf.MultiCell(0, 6, tr(blk.Speaker+":"), "", "L", false)
		pdf.SetFont(family, "", 10)
		pdf.MultiCell(0, 5, tr(blk.Text), "", "L", false)
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
