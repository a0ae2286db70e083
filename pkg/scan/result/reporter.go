// Package result reports scan results as hit log events. Only redacted values
// and masked context are ever logged.
package result

import (
	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/CompassSecurity/docleek/pkg/logging"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/rs/zerolog/log"
)

type ReportOptions struct {
	// Context adds the masked snippet to every match event
	Context bool
	// TestData also reports matches flagged as test data
	TestData bool
}

func ReportFile(f model.FileResult, opts ReportOptions) {
	if f.Error != nil {
		log.Warn().Str("path", f.Path).Str("kind", string(f.Error.Kind)).Str("code", f.Error.Code).Str("detail", f.Error.Detail).Msg("File not fully scanned")
	}
	for _, m := range f.Matches {
		ReportMatch(f.Path, m, opts)
	}
	if f.LabelRecommendation != model.LabelNone {
		logging.Hit().
			Str("kind", string(logging.HitKindLabel)).
			Str("path", f.Path).
			Str("label", string(f.LabelRecommendation)).
			Int("matches", f.CountedMatches()).
			Str("size", format.HumanSize(f.SizeBytes)).
			Msg("LABEL")
	}
}

func ReportMatch(path string, m model.ResolvedMatch, opts ReportOptions) {
	kind := logging.HitKindMatch
	if m.IsTestData {
		if !opts.TestData {
			log.Debug().Str("path", path).Str("entity", string(m.EntityType)).Int("line", m.Span.Line).Msg("Skipping test data match")
			return
		}
		kind = logging.HitKindTestData
	}

	sources := make([]string, 0, len(m.ContributingSources))
	for _, s := range m.ContributingSources {
		sources = append(sources, string(s))
	}

	event := logging.Hit().
		Str("kind", string(kind)).
		Str("path", path).
		Int("line", m.Span.Line).
		Str("entity", string(m.EntityType)).
		Str("value", m.RedactedValue).
		Float64("confidence", m.FinalConfidence).
		Str("verdict", string(m.Verdict)).
		Strs("sources", sources)
	if opts.Context && m.Context != "" {
		event = event.Str("context", m.Context)
	}
	event.Msg("MATCH")
}
