// Package config provides the process-scoped configuration for docleek.
// A single Config is built at startup and handed to every component.
package config

import (
	"time"

	"github.com/CompassSecurity/docleek/pkg/model"
)

// Config is the root configuration object.
type Config struct {
	// Actor is recorded on audit entries and review verdicts
	Actor      string           `mapstructure:"actor" yaml:"actor"`
	Pattern    PatternOptions   `mapstructure:"pattern" yaml:"pattern"`
	Secrets    SecretsOptions   `mapstructure:"secrets" yaml:"secrets"`
	Recognizer RemoteOptions    `mapstructure:"recognizer" yaml:"recognizer"`
	Classifier RemoteOptions    `mapstructure:"classifier" yaml:"classifier"`
	Fusion     FusionOptions    `mapstructure:"fusion" yaml:"fusion"`
	Redaction  RedactionOptions `mapstructure:"redaction" yaml:"redaction"`
	// Labels maps entity types to sensitivity tiers
	Labels map[model.EntityType]model.Label `mapstructure:"labels" yaml:"labels"`
	Scan   ScanOptions                      `mapstructure:"scan" yaml:"scan"`
	Store  StoreOptions                     `mapstructure:"store" yaml:"store"`
	Review ReviewOptions                    `mapstructure:"review" yaml:"review"`
}

// PatternOptions configures the regex and checksum detector.
type PatternOptions struct {
	// Markers are words that flag a nearby match as test data
	Markers []string `mapstructure:"markers" yaml:"markers"`
	// MarkerWindow is how many bytes around a match are searched for markers
	MarkerWindow int `mapstructure:"marker_window" yaml:"marker_window"`
	// Workers bounds the parallel evaluation of pattern rules within one file
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// SecretsOptions configures the trufflehog based secret detector.
type SecretsOptions struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Verify asks trufflehog to verify credentials against their providers
	Verify          bool    `mapstructure:"verify" yaml:"verify"`
	VerifiedScore   float64 `mapstructure:"verified_score" yaml:"verified_score"`
	UnverifiedScore float64 `mapstructure:"unverified_score" yaml:"unverified_score"`
}

// RemoteOptions configures an HTTP sidecar. An empty URL disables it.
type RemoteOptions struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func (r RemoteOptions) Enabled() bool {
	return r.URL != ""
}

// FusionOptions configures overlap resolution and calibration.
type FusionOptions struct {
	// ReviewThreshold is the confidence at or above which a non-test match is auto-accepted
	ReviewThreshold float64 `mapstructure:"review_threshold" yaml:"review_threshold"`
	// CorroborationBonus is added once per additional agreeing detector
	CorroborationBonus float64 `mapstructure:"corroboration_bonus" yaml:"corroboration_bonus"`
	// Compatibility maps a generic type to the specific types it may merge with
	Compatibility map[model.EntityType][]model.EntityType `mapstructure:"compatibility" yaml:"compatibility"`
	// BaseConfidence is the rule defined starting confidence of pattern hits
	BaseConfidence map[model.EntityType]float64 `mapstructure:"base_confidence" yaml:"base_confidence"`
	// ContextBytes is the snippet radius around a match
	ContextBytes int `mapstructure:"context_bytes" yaml:"context_bytes"`
}

// Keep is how many characters of a value stay visible at each end.
type Keep struct {
	Leading  int `mapstructure:"leading" yaml:"leading"`
	Trailing int `mapstructure:"trailing" yaml:"trailing"`
}

// RedactionOptions configures the per entity redaction table.
type RedactionOptions struct {
	Mask    string                    `mapstructure:"mask" yaml:"mask"`
	Default Keep                      `mapstructure:"default" yaml:"default"`
	Entity  map[model.EntityType]Keep `mapstructure:"entity" yaml:"entity"`
}

// ScanOptions configures directory traversal and the worker pool.
type ScanOptions struct {
	// Workers controls the number of files scanned concurrently
	Workers int `mapstructure:"workers" yaml:"workers"`
	// FileTimeout bounds extraction and detection of a single file
	FileTimeout time.Duration `mapstructure:"file_timeout" yaml:"file_timeout"`
	// MaxFileSize is a human readable size, larger files are rejected unread
	MaxFileSize string `mapstructure:"max_file_size" yaml:"max_file_size"`
	// Exclude holds glob patterns matched against path elements
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
	// QueueFolder holds the on-disk work queue, defaults to the OS temp dir
	QueueFolder string `mapstructure:"queue_folder" yaml:"queue_folder"`
	// ArchiveDepth limits nested archive expansion
	ArchiveDepth int `mapstructure:"archive_depth" yaml:"archive_depth"`
}

// StoreOptions configures the encrypted findings store.
type StoreOptions struct {
	Path string `mapstructure:"path" yaml:"path"`
	// AuditPath defaults to a file next to the database
	AuditPath string `mapstructure:"audit_path" yaml:"audit_path"`
	// KeySource is one of keyring, env
	KeySource      string `mapstructure:"key_source" yaml:"key_source"`
	KeyEnv         string `mapstructure:"key_env" yaml:"key_env"`
	KeyringService string `mapstructure:"keyring_service" yaml:"keyring_service"`
	// KeyringBackend forces a backend such as file or secret-service
	KeyringBackend string `mapstructure:"keyring_backend" yaml:"keyring_backend"`
	KeyringDir     string `mapstructure:"keyring_dir" yaml:"keyring_dir"`
}

// ReviewOptions configures the review queue and feedback ledger.
type ReviewOptions struct {
	LedgerPath string `mapstructure:"ledger_path" yaml:"ledger_path"`
	// IncludeAll also queues matches that already carry a verdict
	IncludeAll bool `mapstructure:"include_all" yaml:"include_all"`
	// MaxConfidence leaves out matches scored above it, 0 disables the bound
	MaxConfidence float64 `mapstructure:"max_confidence" yaml:"max_confidence"`
	// Limit bounds the matches presented in one session, 0 means all
	Limit int `mapstructure:"limit" yaml:"limit"`
}

// DefaultExcludes are skipped while walking a source tree.
var DefaultExcludes = []string{
	"node_modules", ".git", "__pycache__", "venv", ".venv", ".tox",
	"dist", "build", "*.egg-info", ".mypy_cache", ".pytest_cache",
}

// DefaultCompatibility lists which generic types fold into which specific ones.
func DefaultCompatibility() map[model.EntityType][]model.EntityType {
	return map[model.EntityType][]model.EntityType{
		model.EntityIdentifier: {
			model.EntitySSN, model.EntityCreditCard, model.EntityMedicalRecordNumber,
			model.EntityHealthPlanID, model.EntityCVV,
		},
		model.EntitySecret: {
			model.EntityAPIKey, model.EntityPassword, model.EntityPrivateKey,
		},
	}
}

// DefaultLabels is the severity tier table.
func DefaultLabels() map[model.EntityType]model.Label {
	return map[model.EntityType]model.Label{
		model.EntitySSN:                 model.LabelHighlyConfidential,
		model.EntityCreditCard:          model.LabelHighlyConfidential,
		model.EntityCVV:                 model.LabelHighlyConfidential,
		model.EntityExpirationDate:      model.LabelHighlyConfidential,
		model.EntityMedicalRecordNumber: model.LabelHighlyConfidential,
		model.EntityHealthPlanID:        model.LabelHighlyConfidential,
		model.EntityAPIKey:              model.LabelHighlyConfidential,
		model.EntityPassword:            model.LabelHighlyConfidential,
		model.EntityPrivateKey:          model.LabelHighlyConfidential,
		model.EntityIdentifier:          model.LabelHighlyConfidential,
		model.EntitySecret:              model.LabelHighlyConfidential,
		model.EntityName:                model.LabelConfidential,
		model.EntityAddress:             model.LabelConfidential,
		model.EntityDateOfBirth:         model.LabelConfidential,
		model.EntityDiagnosis:           model.LabelConfidential,
		model.EntityMedication:          model.LabelConfidential,
		model.EntityEmail:               model.LabelInternal,
		model.EntityPhone:               model.LabelInternal,
	}
}

// DefaultBaseConfidence holds the starting confidence of pattern hits per entity type.
func DefaultBaseConfidence() map[model.EntityType]float64 {
	return map[model.EntityType]float64{
		model.EntitySSN:                 0.75,
		model.EntityCreditCard:          0.70,
		model.EntityEmail:               0.90,
		model.EntityPhone:               0.65,
		model.EntityMedicalRecordNumber: 0.80,
		model.EntityPrivateKey:          0.95,
		model.EntityPassword:            0.60,
		model.EntityDateOfBirth:         0.60,
	}
}

// DefaultRedaction keeps two characters at each end unless the entity says otherwise.
func DefaultRedaction() RedactionOptions {
	return RedactionOptions{
		Mask:    "*",
		Default: Keep{Leading: 2, Trailing: 2},
		Entity: map[model.EntityType]Keep{
			model.EntityCreditCard: {Leading: 0, Trailing: 4},
			model.EntityEmail:      {Leading: 1, Trailing: 4},
			model.EntityAPIKey:     {Leading: 4, Trailing: 0},
			model.EntityPassword:   {Leading: 0, Trailing: 0},
			model.EntityPrivateKey: {Leading: 0, Trailing: 0},
			model.EntityCVV:        {Leading: 0, Trailing: 0},
			model.EntitySecret:     {Leading: 0, Trailing: 0},
		},
	}
}

// Default returns the configuration used when no file or flag overrides a value.
func Default() Config {
	return Config{
		Actor: "docleek",
		Pattern: PatternOptions{
			Markers:      []string{"test", "testing", "example", "demo", "sample", "dummy", "fake", "placeholder"},
			MarkerWindow: 24,
			Workers:      4,
		},
		Secrets: SecretsOptions{
			Enabled:         true,
			Verify:          false,
			VerifiedScore:   0.95,
			UnverifiedScore: 0.60,
		},
		Recognizer: RemoteOptions{Timeout: 10 * time.Second},
		Classifier: RemoteOptions{Timeout: 10 * time.Second},
		Fusion: FusionOptions{
			ReviewThreshold:    0.85,
			CorroborationBonus: 0.10,
			Compatibility:      DefaultCompatibility(),
			BaseConfidence:     DefaultBaseConfidence(),
			ContextBytes:       50,
		},
		Redaction: DefaultRedaction(),
		Labels:    DefaultLabels(),
		Scan: ScanOptions{
			Workers:      4,
			FileTimeout:  60 * time.Second,
			MaxFileSize:  "100MB",
			Exclude:      DefaultExcludes,
			ArchiveDepth: 3,
		},
		Store: StoreOptions{
			Path:           "docleek.db",
			KeySource:      "keyring",
			KeyEnv:         "DOCLEEK_STORE_KEY",
			KeyringService: "docleek",
		},
		Review: ReviewOptions{
			LedgerPath: "docleek-feedback.jsonl",
		},
	}
}
