package signal

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/acarl005/stripansi"
)

// MaxSnippetBytes caps a context snippet.
const MaxSnippetBytes = 1024

// Mask marks a span of text that must not appear in a snippet.
type Mask struct {
	Span   model.Span
	Entity model.EntityType
}

// Snippet extracts text around span with radius bytes on each side. Every
// mask intersecting the window, including the match itself, is replaced by
// its entity type in brackets, so the snippet carries no detected value.
func Snippet(text string, span model.Span, radius int, masks []Mask) string {
	ws := max(span.Start-radius, 0)
	we := min(span.End+radius, len(text))
	for ws > 0 && ws < len(text) && !utf8.RuneStart(text[ws]) {
		ws--
	}
	for we < len(text) && !utf8.RuneStart(text[we]) {
		we++
	}

	inWindow := make([]Mask, 0, len(masks))
	for _, m := range masks {
		if m.Span.Start < we && ws < m.Span.End {
			inWindow = append(inWindow, m)
		}
	}
	slices.SortFunc(inWindow, func(a, b Mask) int { return a.Span.Start - b.Span.Start })

	var b strings.Builder
	pos := ws
	for _, m := range inWindow {
		if m.Span.End <= pos {
			continue
		}
		if m.Span.Start > pos {
			b.WriteString(text[pos:m.Span.Start])
		}
		b.WriteString("[" + strings.ToUpper(string(m.Entity)) + "]")
		pos = min(m.Span.End, we)
	}
	if pos < we {
		b.WriteString(text[pos:we])
	}
	return cleanSnippet(b.String())
}

func cleanSnippet(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = stripansi.Strip(s)
	s = strings.TrimSpace(s)
	if len(s) > MaxSnippetBytes {
		cut := MaxSnippetBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
