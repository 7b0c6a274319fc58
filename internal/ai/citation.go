package ai

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xxxsen/mrag/internal/model"
)

var citationRegex = regexp.MustCompile(`\[Source:\s*([^,\]]+?)\s*(?:,\s*Page:\s*(\d+))?\s*\]`)

// ExtractCitations returns the distinct [Source: x, Page: n] markers in answer
// in order of first appearance.
func ExtractCitations(answer string) []model.CitationRef {
	matches := citationRegex.FindAllStringSubmatch(answer, -1)
	refs := make([]model.CitationRef, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		source := strings.TrimSpace(m[1])
		if source == "" {
			continue
		}
		ref := model.CitationRef{Source: source}
		key := source + "\x00"
		if m[2] != "" {
			page, err := strconv.Atoi(m[2])
			if err == nil {
				ref.Page = &page
				key += m[2]
			}
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}
