package result

import (
	"bytes"
	"testing"

	"github.com/CompassSecurity/docleek/pkg/logging"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	original := log.Logger
	t.Cleanup(func() {
		log.Logger = original
		logging.SetGlobalHitWriter(nil)
	})
	var buf bytes.Buffer
	w := logging.NewHitLevelWriter(&buf)
	log.Logger = zerolog.New(w).Level(zerolog.InfoLevel)
	logging.SetGlobalHitWriter(w)
	return &buf
}

func TestReportFile(t *testing.T) {
	tests := []struct {
		name           string
		file           model.FileResult
		opts           ReportOptions
		expectInLog    []string
		notExpectInLog []string
	}{
		{
			name: "match and label",
			file: model.FileResult{
				Path:                "hr/employees.csv",
				LabelRecommendation: model.LabelHighlyConfidential,
				Matches: []model.ResolvedMatch{{
					EntityType:          model.EntitySSN,
					RedactedValue:       "***-**-9999",
					FinalConfidence:     0.9,
					Verdict:             model.VerdictTP,
					ContributingSources: []model.DetectorSource{model.SourcePattern, model.SourceRecognizer},
					Span:                model.Span{Line: 3},
					Context:             "SSN: [SSN]",
				}},
			},
			expectInLog:    []string{`"level":"hit"`, "MATCH", "LABEL", "hr/employees.csv", "***-**-9999", "highly_confidential", "recognizer"},
			notExpectInLog: []string{"SSN: [SSN]", "_hit"},
		},
		{
			name: "context on request",
			file: model.FileResult{
				Path:    "notes.txt",
				Matches: []model.ResolvedMatch{{EntityType: model.EntityEmail, RedactedValue: "j***@corp.io", Context: "mail [EMAIL] now"}},
			},
			opts:        ReportOptions{Context: true},
			expectInLog: []string{"mail [EMAIL] now"},
		},
		{
			name: "test data hidden by default",
			file: model.FileResult{
				Path:    "fixtures.txt",
				Matches: []model.ResolvedMatch{{EntityType: model.EntitySSN, RedactedValue: "***-**-6789", IsTestData: true, Verdict: model.VerdictFP}},
			},
			notExpectInLog: []string{"MATCH", "***-**-6789"},
		},
		{
			name: "test data reported when asked",
			file: model.FileResult{
				Path:    "fixtures.txt",
				Matches: []model.ResolvedMatch{{EntityType: model.EntitySSN, RedactedValue: "***-**-6789", IsTestData: true, Verdict: model.VerdictFP}},
			},
			opts:        ReportOptions{TestData: true},
			expectInLog: []string{"test-data", "***-**-6789"},
		},
		{
			name: "errored file",
			file: model.FileResult{
				Path:  "big.bin",
				Error: &model.Error{Kind: model.KindExtraction, Code: model.CodeOversized, Detail: "200>100"},
			},
			expectInLog:    []string{"File not fully scanned", "oversized", "200>100"},
			notExpectInLog: []string{"LABEL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			ReportFile(tt.file, tt.opts)
			out := buf.String()
			for _, s := range tt.expectInLog {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.notExpectInLog {
				assert.NotContains(t, out, s)
			}
		})
	}
}
