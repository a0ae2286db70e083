package signal

import (
	"strings"
	"testing"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/detector/ner"
	"github.com/CompassSecurity/docleek/pkg/detector/pattern"
	"github.com/CompassSecurity/docleek/pkg/detector/secrets"
	"github.com/CompassSecurity/docleek/pkg/detector/tpfp"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPatternHitsUsesBaseTable(t *testing.T) {
	n := New(config.Default())
	got := n.FromPatternHits([]pattern.Hit{
		{Rule: "us-ssn", Entity: model.EntitySSN, Span: model.Span{Start: 0, End: 11, Line: 1}, Value: "219-09-9999"},
		{Rule: "other", Entity: model.EntityCVV, Span: model.Span{Start: 20, End: 23, Line: 2}, Value: "123", IsTestData: true},
	})
	require.Len(t, got, 2)
	assert.Equal(t, 0.75, got[0].RawConfidence)
	assert.Equal(t, model.SourcePattern, got[0].Source)
	assert.Equal(t, FallbackConfidence, got[1].RawConfidence)
	assert.True(t, got[1].IsTestData)
}

func TestFromSecretsScoresAndLines(t *testing.T) {
	cfg := config.Default()
	n := New(cfg)
	text := "first\nkey=abc\n"
	got := n.FromSecrets(text, []secrets.Finding{
		{Detector: "Github", Entity: model.EntityAPIKey, Span: model.Span{Start: 10, End: 13}, Value: "abc", Verified: true},
		{Detector: "Github", Entity: model.EntityAPIKey, Span: model.Span{Start: 0, End: 3}, Value: "fir"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, cfg.Secrets.VerifiedScore, got[0].RawConfidence)
	assert.Equal(t, 2, got[0].Span.Line)
	assert.Equal(t, cfg.Secrets.UnverifiedScore, got[1].RawConfidence)
	assert.Equal(t, 1, got[1].Span.Line)
}

func TestFromRecognizerSpansPassThrough(t *testing.T) {
	n := New(config.Default())
	text := "patient\nJane Roe"
	got := n.FromRecognizerSpans(text, []ner.Span{
		{Start: 8, End: 16, Label: "PERSON", Entity: model.EntityName, Score: 0.42},
		{Start: 8, End: 99, Entity: model.EntityName, Score: 0.9},
		{Start: 0, End: 7, Entity: model.EntityName, Score: 3},
	})
	require.Len(t, got, 2)
	assert.Equal(t, 0.42, got[0].RawConfidence)
	assert.Equal(t, "Jane Roe", got[0].RawValue)
	assert.Equal(t, 2, got[0].Span.Line)
	assert.Equal(t, 1.0, got[1].RawConfidence)
}

func TestFromClassifierScores(t *testing.T) {
	n := New(config.Default())
	targets := map[string]Target{
		"0": {EntityType: model.EntitySSN, Span: model.Span{Start: 4, End: 15, Line: 1}, RawValue: "219-09-9999"},
	}
	got := n.FromClassifierScores(tpfp.Result{
		ModelVersion: "2.0.1",
		Scores:       []tpfp.Score{{MatchID: "0", Score: 0.97}, {MatchID: "7", Score: 0.1}},
	}, targets)
	require.Len(t, got, 1)
	assert.Equal(t, model.SourceClassifier, got[0].Source)
	assert.Equal(t, "2.0.1", got[0].ModelVersion)
	assert.Equal(t, 0.97, got[0].RawConfidence)
	assert.Equal(t, targets["0"].Span, got[0].Span)
}

func TestSnippet(t *testing.T) {
	text := "Name: Jane\nSSN: 219-09-9999 mail jane@corp.io end"
	ssn := model.Span{Start: 16, End: 27}
	mail := model.Span{Start: 33, End: 45}
	masks := []Mask{{Span: ssn, Entity: model.EntitySSN}, {Span: mail, Entity: model.EntityEmail}}

	got := Snippet(text, ssn, 50, masks)
	assert.Equal(t, "Name: Jane SSN: [SSN] mail [EMAIL] end", got)
	assert.NotContains(t, got, "219-09")
	assert.NotContains(t, got, "jane@")

	got = Snippet(text, ssn, 3, masks)
	assert.Equal(t, "N: [SSN] ma", got)
}

func TestSnippetRuneBoundaryAndCap(t *testing.T) {
	text := "ääää 219-09-9999"
	span := model.Span{Start: 9, End: 20}
	got := Snippet(text, span, 4, []Mask{{Span: span, Entity: model.EntitySSN}})
	assert.Equal(t, "ää [SSN]", got)

	long := strings.Repeat("x", 3000) + "219-09-9999" + strings.Repeat("y", 3000)
	span = model.Span{Start: 3000, End: 3011}
	got = Snippet(long, span, 2000, nil)
	assert.LessOrEqual(t, len(got), MaxSnippetBytes)
}

func TestSnippetStripsANSI(t *testing.T) {
	text := "\x1b[31mred\x1b[0m 219-09-9999"
	span := model.Span{Start: 13, End: 24}
	got := Snippet(text, span, 50, []Mask{{Span: span, Entity: model.EntitySSN}})
	assert.Equal(t, "red [SSN]", got)
}
