package moderation

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Filter censors blocklisted words locally and always accepts the transformed
// text. It never rejects.
type Filter struct {
	words []string
}

var _ Pipeline = (*Filter)(nil)

// NewFilter creates a filter over the given blocklist. Matching is case
// insensitive; empty entries are dropped.
func NewFilter(words []string) *Filter {
	var cleaned []string
	for _, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		if w != "" {
			cleaned = append(cleaned, w)
		}
	}
	return &Filter{words: cleaned}
}

func (f *Filter) Review(ctx context.Context, text string) Result {
	return Accepted(f.censor(text))
}

func (f *Filter) censor(text string) string {
	for _, w := range f.words {
		text = replaceFold(text, w)
	}
	return text
}

// replaceFold masks every case-insensitive occurrence of word with one
// asterisk per character, not per byte.
func replaceFold(text, word string) string {
	lower := strings.ToLower(text)
	mask := strings.Repeat("*", utf8.RuneCountInString(word))

	var b strings.Builder
	for {
		i := strings.Index(lower, word)
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:i])
		b.WriteString(mask)
		text = text[i+len(word):]
		lower = lower[i+len(word):]
	}
}
