package config

import (
	"errors"
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/CompassSecurity/docleek/pkg/format"
)

// ValidateURL validates that a string is a valid URL.
func ValidateURL(urlStr string, fieldName string) error {
	if urlStr == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", fieldName, err)
	}

	if parsed.Scheme == "" {
		return fmt.Errorf("%s must include a scheme (http/https)", fieldName)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}

	return nil
}

// ParseMaxFileSize parses a human-readable size string (e.g., "100MB", "1GB") into bytes.
func ParseMaxFileSize(sizeStr string) (int64, error) {
	size, err := format.ParseHumanSize(sizeStr)
	if err != nil {
		return 0, fmt.Errorf("failed to parse max file size: %w", err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("max file size must be positive, got %q", sizeStr)
	}
	return size, nil
}

// ValidateThreadCount validates that the thread count is within acceptable bounds.
func ValidateThreadCount(threads int) error {
	if threads < 1 {
		return fmt.Errorf("thread count must be at least 1, got %d", threads)
	}
	if threads > 100 {
		return fmt.Errorf("thread count too high (max 100), got %d", threads)
	}
	return nil
}

// ValidateUnit checks that v lies in [0,1].
func ValidateUnit(v float64, fieldName string) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", fieldName, v)
	}
	return nil
}

// MaxFileSizeBytes returns the parsed scan size limit.
func (c Config) MaxFileSizeBytes() (int64, error) {
	return ParseMaxFileSize(c.Scan.MaxFileSize)
}

// Validate checks the whole configuration and joins every problem found.
func (c Config) Validate() error {
	var errs []error

	if err := ValidateThreadCount(c.Scan.Workers); err != nil {
		errs = append(errs, fmt.Errorf("scan.workers: %w", err))
	}
	if err := ValidateThreadCount(c.Pattern.Workers); err != nil {
		errs = append(errs, fmt.Errorf("pattern.workers: %w", err))
	}
	if c.Scan.FileTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan.file_timeout must be positive, got %s", c.Scan.FileTimeout))
	}
	if _, err := c.MaxFileSizeBytes(); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateUnit(c.Fusion.ReviewThreshold, "fusion.review_threshold"); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateUnit(c.Fusion.CorroborationBonus, "fusion.corroboration_bonus"); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateUnit(c.Review.MaxConfidence, "review.max_confidence"); err != nil {
		errs = append(errs, err)
	}
	if c.Review.Limit < 0 {
		errs = append(errs, fmt.Errorf("review.limit must not be negative, got %d", c.Review.Limit))
	}
	for entity, v := range c.Fusion.BaseConfidence {
		if err := ValidateUnit(v, "fusion.base_confidence."+string(entity)); err != nil {
			errs = append(errs, err)
		}
	}
	if utf8.RuneCountInString(c.Redaction.Mask) != 1 {
		errs = append(errs, fmt.Errorf("redaction.mask must be a single character, got %q", c.Redaction.Mask))
	}
	for entity, k := range c.Redaction.Entity {
		if k.Leading < 0 || k.Trailing < 0 {
			errs = append(errs, fmt.Errorf("redaction.entity.%s: negative keep count", entity))
		}
	}
	if c.Redaction.Default.Leading < 0 || c.Redaction.Default.Trailing < 0 {
		errs = append(errs, errors.New("redaction.default: negative keep count"))
	}
	for entity, l := range c.Labels {
		if l.Rank() == 0 {
			errs = append(errs, fmt.Errorf("labels.%s: unknown label %q", entity, l))
		}
	}
	if c.Recognizer.Enabled() {
		if err := ValidateURL(c.Recognizer.URL, "recognizer.url"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Classifier.Enabled() {
		if err := ValidateURL(c.Classifier.URL, "classifier.url"); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Store.KeySource {
	case "keyring", "env":
	default:
		errs = append(errs, fmt.Errorf("store.key_source must be keyring or env, got %q", c.Store.KeySource))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path cannot be empty"))
	}

	return errors.Join(errs...)
}
