package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpanOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{name: "identical", a: Span{Start: 0, End: 5}, b: Span{Start: 0, End: 5}, want: true},
		{name: "partial", a: Span{Start: 0, End: 5}, b: Span{Start: 4, End: 9}, want: true},
		{name: "contained", a: Span{Start: 0, End: 10}, b: Span{Start: 3, End: 4}, want: true},
		{name: "adjacent", a: Span{Start: 0, End: 5}, b: Span{Start: 5, End: 9}, want: false},
		{name: "disjoint", a: Span{Start: 0, End: 2}, b: Span{Start: 7, End: 9}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestVerdictNormalize(t *testing.T) {
	assert.Equal(t, VerdictSkipped, VerdictUnsure.Normalize())
	assert.Equal(t, VerdictTP, VerdictTP.Normalize())
	assert.True(t, VerdictUnsure.Valid())
	assert.False(t, Verdict("MAYBE").Valid())
}

func TestLabelRank(t *testing.T) {
	assert.Less(t, LabelNone.Rank(), LabelPublic.Rank())
	assert.Less(t, LabelInternal.Rank(), LabelConfidential.Rank())
	assert.Less(t, LabelConfidential.Rank(), LabelHighlyConfidential.Rank())
}

func TestPrimarySource(t *testing.T) {
	m := ResolvedMatch{ContributingSources: []DetectorSource{SourceRecognizer, SourcePattern, SourceClassifier}}
	assert.Equal(t, SourcePattern, m.PrimarySource())
	assert.Equal(t, DetectorSource(""), ResolvedMatch{}.PrimarySource())
}

func TestScanRecordSummary(t *testing.T) {
	rec := ScanRecord{FileResults: []FileResult{
		{Path: "a", Matches: []ResolvedMatch{{Verdict: VerdictPending}, {IsTestData: true, Verdict: VerdictFP}}},
		{Path: "b", Error: ExtractionError(CodeOversized, nil)},
		{Path: "c"},
	}}

	s := rec.Summary()
	assert.Equal(t, 3, s.TotalFiles)
	assert.Equal(t, 1, s.FilesWithMatches)
	assert.Equal(t, 1, s.FilesErrored)
	assert.Equal(t, 1, s.TotalMatches)
	assert.Equal(t, 1, s.PendingMatches)
	assert.Equal(t, 2, rec.MatchCount())
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("saving: %w", StoreError(CodeTxFailed, errors.New("disk full")))

	assert.True(t, errors.Is(err, &Error{Kind: KindStore}))
	assert.True(t, errors.Is(err, &Error{Kind: KindStore, Code: CodeTxFailed}))
	assert.False(t, errors.Is(err, &Error{Kind: KindStore, Code: CodeNotFound}))
	assert.False(t, errors.Is(err, ErrKeyUnavailable))
	assert.Contains(t, err.Error(), "disk full")

	keyErr := NewError(KindKeyUnavailable, CodeNotFound, nil)
	assert.True(t, errors.Is(keyErr, ErrKeyUnavailable))
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil, KindStore, CodeTxFailed))

	wrapped := AsError(errors.New("boom"), KindDetector, CodeDetectorFailed)
	assert.Equal(t, KindDetector, wrapped.Kind)

	orig := ReviewTransactionError(CodeCommitFailed, nil)
	assert.Same(t, orig, AsError(fmt.Errorf("x: %w", orig), KindStore, CodeTxFailed))
	assert.True(t, orig.Retryable())
}
