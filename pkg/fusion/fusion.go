// Package fusion merges candidates from independent detectors into resolved,
// redacted matches with a calibrated confidence and an initial verdict.
package fusion

import (
	"cmp"
	"slices"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/CompassSecurity/docleek/pkg/redact"
	"github.com/CompassSecurity/docleek/pkg/signal"
)

type Engine struct {
	threshold    float64
	bonus        float64
	contextBytes int
	// generic type -> specific types it folds into
	compat   map[model.EntityType]map[model.EntityType]bool
	redactor *redact.Redactor
}

func New(opts config.FusionOptions, redactor *redact.Redactor) *Engine {
	compat := make(map[model.EntityType]map[model.EntityType]bool, len(opts.Compatibility))
	for generic, specifics := range opts.Compatibility {
		set := make(map[model.EntityType]bool, len(specifics))
		for _, s := range specifics {
			set[s] = true
		}
		compat[generic] = set
	}
	return &Engine{
		threshold:    opts.ReviewThreshold,
		bonus:        opts.CorroborationBonus,
		contextBytes: opts.ContextBytes,
		compat:       compat,
		redactor:     redactor,
	}
}

// Generic reports whether t is a supertype in the compatibility table.
func (e *Engine) Generic(t model.EntityType) bool {
	_, ok := e.compat[t]
	return ok
}

// Compatible reports whether candidates of type a and b may describe the same value.
func (e *Engine) Compatible(a, b model.EntityType) bool {
	if a == b {
		return true
	}
	return e.compat[a][b] || e.compat[b][a]
}

// Group is a set of overlapping, mutually compatible candidates.
type Group struct {
	Candidates []model.CandidateMatch
	// Extent is the union of all member spans.
	Extent model.Span
}

func (g *Group) Add(c model.CandidateMatch) {
	if len(g.Candidates) == 0 {
		g.Extent = c.Span
	} else {
		if c.Span.Start < g.Extent.Start {
			g.Extent.Start = c.Span.Start
			g.Extent.Line = c.Span.Line
		}
		g.Extent.End = max(g.Extent.End, c.Span.End)
	}
	g.Candidates = append(g.Candidates, c)
}

func (e *Engine) accepts(g *Group, c model.CandidateMatch) bool {
	if !g.Extent.Overlaps(c.Span) {
		return false
	}
	for _, m := range g.Candidates {
		if !e.Compatible(m.EntityType, c.EntityType) {
			return false
		}
	}
	return true
}

// EntityType is the canonical type of g: the specific type when any member
// has one, otherwise the shared generic type.
func (e *Engine) EntityType(g Group) model.EntityType {
	for _, c := range g.Candidates {
		if !e.Generic(c.EntityType) {
			return c.EntityType
		}
	}
	if len(g.Candidates) == 0 {
		return ""
	}
	return g.Candidates[0].EntityType
}

func compareCandidates(a, b model.CandidateMatch) int {
	return cmp.Or(
		cmp.Compare(a.Span.Start, b.Span.Start),
		cmp.Compare(b.Span.End, a.Span.End),
		cmp.Compare(a.Source.Priority(), b.Source.Priority()),
		cmp.Compare(a.EntityType, b.EntityType),
		cmp.Compare(a.Rule, b.Rule),
	)
}

// Group clusters candidates. Candidates are visited in span order and join
// the first earlier group they overlap and are compatible with every member
// of. The result does not depend on the input order.
func (e *Engine) Group(candidates []model.CandidateMatch) []Group {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, compareCandidates)

	var groups []Group
	for _, c := range sorted {
		joined := false
		for i := range groups {
			if e.accepts(&groups[i], c) {
				groups[i].Add(c)
				joined = true
				break
			}
		}
		if !joined {
			var g Group
			g.Add(c)
			groups = append(groups, g)
		}
	}
	return groups
}

// Confidence calibrates a group. A classifier score replaces the detector
// confidences. Otherwise the best raw confidence is raised by the bonus for
// every distinct additional source, capped at 1.
func (e *Engine) Confidence(g Group) (float64, string) {
	classifier, version := -1.0, ""
	best := 0.0
	sources := map[model.DetectorSource]bool{}
	for _, c := range g.Candidates {
		if c.Source == model.SourceClassifier {
			if c.RawConfidence > classifier {
				classifier, version = c.RawConfidence, c.ModelVersion
			}
			continue
		}
		best = max(best, c.RawConfidence)
		sources[c.Source] = true
	}
	if classifier >= 0 {
		return min(classifier, 1), version
	}
	if len(sources) > 1 {
		best += e.bonus * float64(len(sources)-1)
	}
	return min(best, 1), ""
}

// Verdict derives the initial verdict. Test data is always FP.
func (e *Engine) Verdict(confidence float64, testData bool) model.Verdict {
	switch {
	case testData:
		return model.VerdictFP
	case confidence >= e.threshold:
		return model.VerdictTP
	}
	return model.VerdictPending
}

// Masks returns one mask per group, used to blank every detected value out of snippets.
func (e *Engine) Masks(groups []Group) []signal.Mask {
	masks := make([]signal.Mask, 0, len(groups))
	for _, g := range groups {
		masks = append(masks, signal.Mask{Span: g.Extent, Entity: e.EntityType(g)})
	}
	return masks
}

// Context is the redacted snippet around g.
func (e *Engine) Context(text string, g Group, masks []signal.Mask) string {
	return signal.Snippet(text, g.Extent, e.contextBytes, masks)
}

// Resolve turns groups into matches sorted by span start, then source priority.
func (e *Engine) Resolve(text string, groups []Group) []model.ResolvedMatch {
	masks := e.Masks(groups)
	out := make([]model.ResolvedMatch, 0, len(groups))
	for _, g := range groups {
		if len(g.Candidates) == 0 {
			continue
		}
		out = append(out, e.resolve(text, g, masks))
	}
	slices.SortStableFunc(out, func(a, b model.ResolvedMatch) int {
		return cmp.Or(
			cmp.Compare(a.Span.Start, b.Span.Start),
			cmp.Compare(a.PrimarySource().Priority(), b.PrimarySource().Priority()),
			cmp.Compare(a.EntityType, b.EntityType),
		)
	})
	return out
}

func (e *Engine) resolve(text string, g Group, masks []signal.Mask) model.ResolvedMatch {
	entity := e.EntityType(g)
	confidence, version := e.Confidence(g)

	testData := false
	var sources []model.DetectorSource
	var value *model.CandidateMatch
	for i, c := range g.Candidates {
		testData = testData || c.IsTestData
		if !slices.Contains(sources, c.Source) {
			sources = append(sources, c.Source)
		}
		if c.EntityType != entity || c.Source == model.SourceClassifier {
			continue
		}
		if value == nil || c.RawConfidence > value.RawConfidence ||
			(c.RawConfidence == value.RawConfidence && c.Source.Priority() < value.Source.Priority()) {
			value = &g.Candidates[i]
		}
	}
	slices.SortFunc(sources, func(a, b model.DetectorSource) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})

	raw := ""
	if value != nil {
		raw = value.RawValue
	} else if g.Extent.End <= len(text) {
		raw = text[g.Extent.Start:g.Extent.End]
	}

	return model.ResolvedMatch{
		EntityType:          entity,
		RedactedValue:       e.redactor.Redact(raw, entity),
		FinalConfidence:     confidence,
		ContributingSources: sources,
		IsTestData:          testData,
		Verdict:             e.Verdict(confidence, testData),
		ModelVersion:        version,
		Span:                g.Extent,
		Context:             e.Context(text, g, masks),
	}
}
