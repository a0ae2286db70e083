// Package signal turns the native output of each detector into CandidateMatches
// on a common [0,1] confidence scale.
package signal

import (
	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/detector/ner"
	"github.com/CompassSecurity/docleek/pkg/detector/pattern"
	"github.com/CompassSecurity/docleek/pkg/detector/secrets"
	"github.com/CompassSecurity/docleek/pkg/detector/tpfp"
	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/CompassSecurity/docleek/pkg/model"
)

// FallbackConfidence applies to pattern entities missing from the base table.
const FallbackConfidence = 0.5

type Normalizer struct {
	base       map[model.EntityType]float64
	verified   float64
	unverified float64
}

func New(cfg config.Config) *Normalizer {
	return &Normalizer{
		base:       cfg.Fusion.BaseConfidence,
		verified:   cfg.Secrets.VerifiedScore,
		unverified: cfg.Secrets.UnverifiedScore,
	}
}

// BaseConfidence is the fixed confidence of a pattern hit for entity.
func (n *Normalizer) BaseConfidence(entity model.EntityType) float64 {
	if c, ok := n.base[entity]; ok {
		return c
	}
	return FallbackConfidence
}

func (n *Normalizer) FromPatternHits(hits []pattern.Hit) []model.CandidateMatch {
	out := make([]model.CandidateMatch, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.CandidateMatch{
			EntityType:    h.Entity,
			Source:        model.SourcePattern,
			Span:          h.Span,
			RawValue:      h.Value,
			RawConfidence: n.BaseConfidence(h.Entity),
			IsTestData:    h.IsTestData,
			Rule:          h.Rule,
		})
	}
	return out
}

func (n *Normalizer) FromSecrets(text string, findings []secrets.Finding) []model.CandidateMatch {
	lines := format.NewLines(text)
	out := make([]model.CandidateMatch, 0, len(findings))
	for _, f := range findings {
		conf := n.unverified
		if f.Verified {
			conf = n.verified
		}
		span := f.Span
		span.Line = lines.At(span.Start)
		out = append(out, model.CandidateMatch{
			EntityType:    f.Entity,
			Source:        model.SourceSecrets,
			Span:          span,
			RawValue:      f.Value,
			RawConfidence: clamp(conf),
			Rule:          f.Detector,
		})
	}
	return out
}

// FromRecognizerSpans passes the recognizer score through unchanged apart from clamping.
func (n *Normalizer) FromRecognizerSpans(text string, spans []ner.Span) []model.CandidateMatch {
	lines := format.NewLines(text)
	out := make([]model.CandidateMatch, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			continue
		}
		out = append(out, model.CandidateMatch{
			EntityType:    s.Entity,
			Source:        model.SourceRecognizer,
			Span:          model.Span{Start: s.Start, End: s.End, Line: lines.At(s.Start)},
			RawValue:      text[s.Start:s.End],
			RawConfidence: clamp(s.Score),
			Rule:          s.Label,
		})
	}
	return out
}

// Target is the group a classifier score was requested for.
type Target struct {
	EntityType model.EntityType
	Span       model.Span
	RawValue   string
}

// FromClassifierScores maps scores back onto their targets by match id.
// Scores without a target are ignored.
func (n *Normalizer) FromClassifierScores(res tpfp.Result, targets map[string]Target) []model.CandidateMatch {
	out := make([]model.CandidateMatch, 0, len(res.Scores))
	for _, s := range res.Scores {
		t, ok := targets[s.MatchID]
		if !ok {
			continue
		}
		out = append(out, model.CandidateMatch{
			EntityType:    t.EntityType,
			Source:        model.SourceClassifier,
			Span:          t.Span,
			RawValue:      t.RawValue,
			RawConfidence: clamp(s.Score),
			Rule:          s.MatchID,
			ModelVersion:  res.ModelVersion,
		})
	}
	return out
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
