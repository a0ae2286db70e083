// Package pattern finds sensitive values with regular expressions and cheap
// structural checks. A Detector is immutable and safe for concurrent use.
package pattern

import (
	"context"
	"iter"
	"regexp"
	"slices"
	"strings"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/rs/zerolog/log"
	"github.com/wandb/parallel"
)

// Hit is one pattern match before confidence assignment.
type Hit struct {
	Rule       string
	Entity     model.EntityType
	Span       model.Span
	Value      string
	IsTestData bool
	// TestReason is placeholder, marker or reserved when IsTestData is set
	TestReason string
}

type compiledRule struct {
	Rule
	placeholders map[string]struct{}
}

type Detector struct {
	rules   []compiledRule
	markers *regexp.Regexp
	window  int
	workers int
}

// New builds a detector over the default rule table.
func New(opts config.PatternOptions) *Detector {
	return NewWithRules(DefaultRules(), opts)
}

func NewWithRules(rules []Rule, opts config.PatternOptions) *Detector {
	d := &Detector{window: opts.MarkerWindow, workers: max(opts.Workers, 1)}

	for _, r := range rules {
		cr := compiledRule{Rule: r, placeholders: make(map[string]struct{}, len(r.Placeholders))}
		for _, p := range r.Placeholders {
			cr.placeholders[Normalize(p)] = struct{}{}
		}
		d.rules = append(d.rules, cr)
	}

	if len(opts.Markers) > 0 {
		quoted := make([]string, 0, len(opts.Markers))
		for _, m := range opts.Markers {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(m)))
		}
		d.markers = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}

	log.Debug().Int("rules", len(d.rules)).Int("markers", len(opts.Markers)).Msg("Pattern detector ready")
	return d
}

// Detect returns a lazy sequence of hits in rule order, then position order.
// Each iteration rescans text, so the sequence can be ranged over again.
func (d *Detector) Detect(text string) iter.Seq[Hit] {
	return func(yield func(Hit) bool) {
		lines := format.NewLines(text)
		for i := range d.rules {
			for h := range d.detectRule(&d.rules[i], text, lines) {
				if !yield(h) {
					return
				}
			}
		}
	}
}

// DetectAll evaluates every rule concurrently and returns the hits ordered by
// span start, then rule table order.
func (d *Detector) DetectAll(ctx context.Context, text string) ([]Hit, error) {
	lines := format.NewLines(text)
	group := parallel.Collect[[]Hit](parallel.Limited(ctx, d.workers))

	for i := range d.rules {
		rule := &d.rules[i]
		group.Go(func(ctx context.Context) ([]Hit, error) {
			return slices.Collect(d.detectRule(rule, text, lines)), nil
		})
	}

	perRule, err := group.Wait()
	if err != nil {
		return nil, err
	}

	order := make(map[string]int, len(d.rules))
	for i, r := range d.rules {
		order[r.Name] = i
	}
	hits := slices.Concat(perRule...)
	slices.SortStableFunc(hits, func(a, b Hit) int {
		if a.Span.Start != b.Span.Start {
			return a.Span.Start - b.Span.Start
		}
		return order[a.Rule] - order[b.Rule]
	})
	return hits, nil
}

func (d *Detector) detectRule(rule *compiledRule, text string, lines format.Lines) iter.Seq[Hit] {
	return func(yield func(Hit) bool) {
		for _, loc := range rule.Regex.FindAllStringSubmatchIndex(text, -1) {
			g := rule.Group
			if 2*g+1 >= len(loc) || loc[2*g] < 0 {
				continue
			}
			start, end := loc[2*g], loc[2*g+1]

			spans := [][2]int{{0, end - start}}
			if rule.Spans != nil {
				spans = rule.Spans(text[start:end])
			}
			for _, sp := range spans {
				h, ok := d.hit(rule, text, start+sp[0], start+sp[1], lines)
				if !ok {
					continue
				}
				if !yield(h) {
					return
				}
			}
		}
	}
}

func (d *Detector) hit(rule *compiledRule, text string, start, end int, lines format.Lines) (Hit, bool) {
	value := text[start:end]
	if rule.Validate != nil && !rule.Validate(value) {
		return Hit{}, false
	}
	h := Hit{
		Rule:   rule.Name,
		Entity: rule.Entity,
		Span:   model.Span{Start: start, End: end, Line: lines.At(start)},
		Value:  value,
	}
	h.IsTestData, h.TestReason = d.testData(rule, text, start, end, value)
	return h, true
}

func (d *Detector) testData(rule *compiledRule, text string, start, end int, value string) (bool, string) {
	if _, ok := rule.placeholders[Normalize(value)]; ok {
		return true, "placeholder"
	}
	if rule.IsTestValue != nil && rule.IsTestValue(value) {
		return true, "reserved"
	}
	if d.markers == nil || d.window <= 0 {
		return false, ""
	}

	before := text[wordStart(text, max(0, start-d.window)):start]
	after := text[end:wordEnd(text, min(len(text), end+d.window))]
	if d.markers.MatchString(before) || d.markers.MatchString(after) {
		return true, "marker"
	}
	return false, ""
}

// wordStart moves off left until it no longer splits a word, so a window
// edge never turns "latest" into "test".
func wordStart(text string, off int) int {
	for off > 0 && isWordByte(text[off-1]) && isWordByte(text[off]) {
		off--
	}
	return off
}

// wordEnd moves off right until it no longer splits a word.
func wordEnd(text string, off int) int {
	for off < len(text) && off > 0 && isWordByte(text[off-1]) && isWordByte(text[off]) {
		off++
	}
	return off
}

// isWordByte treats every non-ASCII byte as part of a word so windows never
// split a multi-byte rune either.
func isWordByte(c byte) bool {
	return c == '_' || c >= 0x80 ||
		('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
