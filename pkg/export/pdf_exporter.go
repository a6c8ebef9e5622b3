package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders a Dataset as a single-page-flow table. Landscape A4
// keeps wide metric tables readable.
type PDFExporter struct{}

func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render draws the title, a header band and one table row per record.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf export: empty header set")
	}

	doc := gofpdf.New("L", "mm", "A4", "")
	doc.SetMargins(10, 12, 10)
	doc.AddPage()

	if title != "" {
		doc.SetFont("Arial", "B", 13)
		doc.CellFormat(0, 9, title, "", 1, "C", false, 0, "")
		doc.Ln(4)
	}

	pageW, _ := doc.GetPageSize()
	left, _, right, _ := doc.GetMargins()
	colW := (pageW - left - right) / float64(len(data.Headers))

	doc.SetFont("Arial", "B", 9)
	doc.SetFillColor(230, 230, 230)
	for _, col := range data.Headers {
		doc.CellFormat(colW, 8, col, "1", 0, "C", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for _, col := range data.Headers {
			doc.CellFormat(colW, 7, row[col], "1", 0, "", false, 0, "")
		}
		doc.Ln(-1)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output: %w", err)
	}
	return buf.Bytes(), nil
}
