package parser

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

// Section is a contiguous piece of a document. Page is set for formats with
// pagination, Heading for formats with a heading structure.
type Section struct {
	Content string
	Page    *int
	Heading string
}

type Parser interface {
	Parse(data []byte) ([]Section, error)
}

type entry struct {
	parser   Parser
	mimeType string
}

var byExt = map[string]entry{}

func register(p Parser, mimeType string, exts ...string) {
	for _, ext := range exts {
		byExt[ext] = entry{parser: p, mimeType: mimeType}
	}
}

func init() {
	register(&pdfParser{}, "application/pdf", ".pdf")
	register(&markdownParser{}, "text/markdown", ".md", ".markdown")
	register(&textParser{}, "text/plain", ".txt", ".text", ".log", ".csv")
}

// ForFilename picks a parser by file extension. Unknown extensions yield
// ErrUnsupportedFileType.
func ForFilename(name string) (Parser, string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	e, ok := byExt[ext]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", appErr.ErrUnsupportedFileType, ext)
	}
	return e.parser, e.mimeType, nil
}

func Supported(name string) bool {
	_, ok := byExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

func Extensions() []string {
	exts := make([]string, 0, len(byExt))
	for ext := range byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func normalizeNewlines(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
