package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

type pdfParser struct{}

// Parse extracts plain text page by page. Pages without text are skipped.
func (p *pdfParser) Parse(data []byte) (sections []Section, err error) {
	defer func() {
		// the pdf reader panics on some malformed inputs
		if r := recover(); r != nil {
			sections = nil
			err = fmt.Errorf("%w: malformed pdf: %v", appErr.ErrFileProcessing, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", appErr.ErrFileProcessing, err)
	}
	total := reader.NumPage()
	sections = make([]Section, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: read page %d: %v", appErr.ErrFileProcessing, i, err)
		}
		text = strings.TrimSpace(normalizeNewlines(text))
		if text == "" {
			continue
		}
		pageNo := i
		sections = append(sections, Section{Content: text, Page: &pageNo})
	}
	return sections, nil
}
