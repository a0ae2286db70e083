package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for callers and reports.
type ErrorKind string

const (
	KindExtraction        ErrorKind = "extraction_error"
	KindDetector          ErrorKind = "detector_error"
	KindStore             ErrorKind = "store_error"
	KindReviewTransaction ErrorKind = "review_transaction_error"
	KindKeyUnavailable    ErrorKind = "key_unavailable"
	KindConfig            ErrorKind = "config_error"
)

// Machine readable error codes.
const (
	CodeOversized   = "oversized"
	CodeUnsupported = "unsupported"
	CodeCorrupt     = "corrupt"
	CodeLocked      = "locked"
	CodeNotFound    = "not_found"
	CodeTimeout     = "timeout"

	CodeDetectorFailed = "detector_failed"

	CodeOpenFailed  = "open_failed"
	CodeTxFailed    = "tx_failed"
	CodeKeyMismatch = "key_mismatch"
	CodeAuditFailed = "audit_failed"
	CodeInvalid     = "invalid"

	CodeNotCurrent   = "not_current"
	CodeNotPending   = "not_pending"
	CodeCommitFailed = "commit_failed"
	CodeLedgerFailed = "ledger_failed"
	CodeSessionDone  = "session_done"
)

// Error is the structured error carried on results and returned by the store
// and review session. Detail is optional machine actionable context.
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Code   string    `json:"code"`
	Detail string    `json:"detail,omitempty"`
	Err    error     `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Code
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and, when set on the target, by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Retryable reports whether the caller may retry the same operation.
func (e *Error) Retryable() bool {
	return e.Kind == KindReviewTransaction && (e.Code == CodeCommitFailed || e.Code == CodeLedgerFailed)
}

func NewError(kind ErrorKind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Errorf(kind ErrorKind, code string, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

func ExtractionError(code string, err error) *Error {
	return &Error{Kind: KindExtraction, Code: code, Err: err}
}

func DetectorError(detail string, err error) *Error {
	return &Error{Kind: KindDetector, Code: CodeDetectorFailed, Detail: detail, Err: err}
}

func StoreError(code string, err error) *Error {
	return &Error{Kind: KindStore, Code: code, Err: err}
}

func ReviewTransactionError(code string, err error) *Error {
	return &Error{Kind: KindReviewTransaction, Code: code, Err: err}
}

// ErrKeyUnavailable is returned when the credential store cannot produce the store key.
var ErrKeyUnavailable = &Error{Kind: KindKeyUnavailable}

// AsError extracts a *Error from err, wrapping unknown errors with the given kind.
func AsError(err error, kind ErrorKind, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: kind, Code: code, Err: err}
}
