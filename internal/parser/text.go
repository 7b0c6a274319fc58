package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

type textParser struct{}

func (p *textParser) Parse(data []byte) ([]Section, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text is not valid utf-8", appErr.ErrFileProcessing)
	}
	content := strings.TrimSpace(normalizeNewlines(string(data)))
	if content == "" {
		return []Section{}, nil
	}
	return []Section{{Content: content}}, nil
}
