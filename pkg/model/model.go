// Package model holds the data types shared by detectors, fusion, the store and review.
package model

import (
	"slices"
	"time"
)

// EntityType names a kind of sensitive value.
type EntityType string

const (
	EntitySSN                 EntityType = "ssn"
	EntityCreditCard          EntityType = "credit_card"
	EntityCVV                 EntityType = "cvv"
	EntityExpirationDate      EntityType = "expiration_date"
	EntityEmail               EntityType = "email"
	EntityPhone               EntityType = "phone"
	EntityName                EntityType = "name"
	EntityAddress             EntityType = "address"
	EntityDateOfBirth         EntityType = "date_of_birth"
	EntityMedicalRecordNumber EntityType = "medical_record_number"
	EntityHealthPlanID        EntityType = "health_plan_id"
	EntityDiagnosis           EntityType = "diagnosis"
	EntityMedication          EntityType = "medication"
	EntityAPIKey              EntityType = "api_key"
	EntityPassword            EntityType = "password"
	EntityPrivateKey          EntityType = "private_key"

	// Generic supertypes. A recognizer that only knows "this looks like an
	// identifier" emits these and fusion folds them into the specific type.
	EntityIdentifier EntityType = "identifier"
	EntitySecret     EntityType = "secret"
)

// DetectorSource identifies the signal that produced a candidate.
type DetectorSource string

const (
	SourcePattern    DetectorSource = "pattern"
	SourceSecrets    DetectorSource = "secrets"
	SourceRecognizer DetectorSource = "recognizer"
	SourceClassifier DetectorSource = "classifier"
)

// Priority orders sources when matches share a span start. Lower wins.
func (s DetectorSource) Priority() int {
	switch s {
	case SourcePattern:
		return 0
	case SourceSecrets:
		return 1
	case SourceRecognizer:
		return 2
	case SourceClassifier:
		return 3
	default:
		return 4
	}
}

// Verdict is the adjudication state of a resolved match.
type Verdict string

const (
	VerdictPending Verdict = "PENDING"
	VerdictTP      Verdict = "TP"
	VerdictFP      Verdict = "FP"
	VerdictUnsure  Verdict = "UNSURE"
	VerdictSkipped Verdict = "SKIPPED"
)

// Normalize folds UNSURE into SKIPPED. Both mean a reviewer declined to decide.
func (v Verdict) Normalize() Verdict {
	if v == VerdictUnsure {
		return VerdictSkipped
	}
	return v
}

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPending, VerdictTP, VerdictFP, VerdictUnsure, VerdictSkipped:
		return true
	}
	return false
}

// Label is a sensitivity recommendation. The empty label means no recommendation.
type Label string

const (
	LabelNone               Label = ""
	LabelPublic             Label = "public"
	LabelInternal           Label = "internal"
	LabelConfidential       Label = "confidential"
	LabelHighlyConfidential Label = "highly_confidential"
)

// Rank orders labels from least to most protective.
func (l Label) Rank() int {
	switch l {
	case LabelPublic:
		return 1
	case LabelInternal:
		return 2
	case LabelConfidential:
		return 3
	case LabelHighlyConfidential:
		return 4
	default:
		return 0
	}
}

// Span is a half-open byte range [Start, End) into extracted text. Line is 1-based.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Line  int `json:"line"`
}

func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Span) Len() int {
	return s.End - s.Start
}

// CandidateMatch is one unverified detection from a single signal. It carries
// the raw value and must never be persisted.
type CandidateMatch struct {
	EntityType    EntityType
	Source        DetectorSource
	Span          Span
	RawValue      string
	RawConfidence float64
	IsTestData    bool
	// Rule is the detector specific rule or label that fired.
	Rule string
	// ModelVersion is set on classifier candidates.
	ModelVersion string
}

// ResolvedMatch is the fused, redacted result of one or more candidates.
type ResolvedMatch struct {
	ID                  string           `json:"id,omitempty"`
	EntityType          EntityType       `json:"entity_type"`
	RedactedValue       string           `json:"redacted_value"`
	FinalConfidence     float64          `json:"final_confidence"`
	ContributingSources []DetectorSource `json:"contributing_sources"`
	IsTestData          bool             `json:"is_test_data"`
	Verdict             Verdict          `json:"verdict"`
	ModelVersion        string           `json:"model_version,omitempty"`
	Span                Span             `json:"span"`
	// Context is a window around the match with every detected value replaced by its type.
	Context    string `json:"context,omitempty"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
}

// PrimarySource is the highest priority contributing source.
func (m ResolvedMatch) PrimarySource() DetectorSource {
	if len(m.ContributingSources) == 0 {
		return ""
	}
	return slices.MinFunc(m.ContributingSources, func(a, b DetectorSource) int {
		return a.Priority() - b.Priority()
	})
}

// HasSource reports whether src contributed to m.
func (m ResolvedMatch) HasSource(src DetectorSource) bool {
	return slices.Contains(m.ContributingSources, src)
}

// FileResult is the outcome of scanning one file or archive member.
type FileResult struct {
	Path                string          `json:"path"`
	Matches             []ResolvedMatch `json:"matches"`
	LabelRecommendation Label           `json:"label_recommendation,omitempty"`
	Error               *Error          `json:"error,omitempty"`
	SizeBytes           int64           `json:"size_bytes,omitempty"`
	ModifiedAt          time.Time       `json:"modified_at,omitzero"`
	ScanDuration        time.Duration   `json:"scan_duration,omitempty"`
}

// CountedMatches returns the matches that are not test data.
func (f FileResult) CountedMatches() int {
	n := 0
	for _, m := range f.Matches {
		if !m.IsTestData {
			n++
		}
	}
	return n
}

// ScanRecord is the root aggregate of one scan.
type ScanRecord struct {
	ScanID      string       `json:"scan_id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at,omitzero"`
	SourcePath  string       `json:"source_path"`
	Cancelled   bool         `json:"cancelled,omitempty"`
	FileResults []FileResult `json:"file_results"`
}

// Summary aggregates counts over a scan.
type Summary struct {
	TotalFiles       int `json:"total_files"`
	FilesWithMatches int `json:"files_with_matches"`
	FilesErrored     int `json:"files_errored"`
	TotalMatches     int `json:"total_matches"`
	PendingMatches   int `json:"pending_matches"`
}

func (r ScanRecord) Summary() Summary {
	s := Summary{TotalFiles: len(r.FileResults)}
	for _, f := range r.FileResults {
		if f.Error != nil {
			s.FilesErrored++
		}
		n := f.CountedMatches()
		if n > 0 {
			s.FilesWithMatches++
		}
		s.TotalMatches += n
		for _, m := range f.Matches {
			if m.Verdict == VerdictPending {
				s.PendingMatches++
			}
		}
	}
	return s
}

// MatchCount is the number of resolved matches over all files.
func (r ScanRecord) MatchCount() int {
	n := 0
	for _, f := range r.FileResults {
		n += len(f.Matches)
	}
	return n
}

// AuditAction names an operation against the findings store.
type AuditAction string

const (
	AuditStoreOpen     AuditAction = "store_open"
	AuditScanSave      AuditAction = "scan_save"
	AuditScanRead      AuditAction = "scan_read"
	AuditScanList      AuditAction = "scan_list"
	AuditMatchList     AuditAction = "match_list"
	AuditScanPurge     AuditAction = "scan_purge"
	AuditReviewVerdict AuditAction = "review_verdict"
	AuditRelabel       AuditAction = "relabel"
	AuditScanExport    AuditAction = "scan_export"
	AuditScanImport    AuditAction = "scan_import"
	AuditStats         AuditAction = "stats"
)

// AuditLogEntry is one append-only record of a store read or write.
type AuditLogEntry struct {
	Timestamp           time.Time   `json:"timestamp"`
	Action              AuditAction `json:"action"`
	Actor               string      `json:"actor"`
	AffectedRecordCount int         `json:"affected_record_count"`
	ScanID              string      `json:"scan_id,omitempty"`
	Success             bool        `json:"success"`
	ErrorKind           ErrorKind   `json:"error_kind,omitempty"`
	ErrorCode           string      `json:"error_code,omitempty"`
}

// ReviewFeedbackRecord is one line in the feedback ledger. Field names are
// part of the on-disk format and must not change.
type ReviewFeedbackRecord struct {
	MatchID            string     `json:"match_id"`
	EntityType         EntityType `json:"entity_type"`
	Verdict            Verdict    `json:"verdict"`
	ConfidenceAtReview float64    `json:"confidence_at_review"`
	DetectorSource     string     `json:"detector_source"`
	ContextSnippet     string     `json:"context_snippet"`
	Reason             string     `json:"reason,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
}
