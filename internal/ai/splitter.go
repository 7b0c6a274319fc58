package ai

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Splitter cuts text into overlapping chunks of at most ChunkSize runes,
// preferring paragraph, line, sentence and word boundaries in that order.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

type SplitterOption func(*Splitter)

func WithChunkSize(size int) SplitterOption {
	return func(s *Splitter) {
		if size > 0 {
			s.size = size
		}
	}
}

func WithOverlap(overlap int) SplitterOption {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func WithSeparators(seps ...string) SplitterOption {
	return func(s *Splitter) {
		if len(seps) > 0 {
			s.separators = seps
		}
	}
}

func NewSplitter(opts ...SplitterOption) *Splitter {
	s := &Splitter{
		size:       DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: defaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 5
	}
	return s
}

func (s *Splitter) ChunkSize() int {
	return s.size
}

func (s *Splitter) Overlap() int {
	return s.overlap
}

func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, 0)
}

func (s *Splitter) split(text string, level int) []string {
	sep := ""
	next := len(s.separators)
	for i := level; i < len(s.separators); i++ {
		if strings.Contains(text, s.separators[i]) {
			sep = s.separators[i]
			next = i + 1
			break
		}
	}
	if sep == "" {
		return s.hardCut(text)
	}

	out := make([]string, 0)
	var fitting []string
	for _, piece := range splitAfter(text, sep) {
		if utf8.RuneCountInString(piece) <= s.size {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting)...)
			fitting = nil
		}
		out = append(out, s.split(piece, next)...)
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting)...)
	}
	return out
}

// merge packs pieces into windows of at most size runes, carrying up to
// overlap runes of trailing pieces into the next window.
func (s *Splitter) merge(pieces []string) []string {
	out := make([]string, 0)
	var window []string
	total := 0
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > s.size && len(window) > 0 {
			out = appendChunk(out, strings.Join(window, ""))
			for len(window) > 0 && (total > s.overlap || total+n > s.size) {
				total -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}
	if len(window) > 0 {
		out = appendChunk(out, strings.Join(window, ""))
	}
	return out
}

func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	step := s.size - s.overlap
	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.size
		if end > len(runes) {
			end = len(runes)
		}
		out = appendChunk(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitAfter splits text after each separator so the pieces concatenate back
// to the original text.
func splitAfter(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendChunk(out []string, chunk string) []string {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return out
	}
	return append(out, chunk)
}
