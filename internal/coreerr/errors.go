// Package coreerr provides the structured error taxonomy used across
// ddscore's four error domains (configuration, access-control, durable-client,
// runtime-invariant), each carrying a code, severity, and optional gRPC
// status mapping so that callers at the API boundary can translate a
// decision failure directly into a wire-level status.
package coreerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies the kind of failure within one of the four taxonomies.
type Code string

const (
	// Configuration errors
	CodeParseError       Code = "CONFIG_PARSE_ERROR"
	CodeUnknownElement   Code = "CONFIG_UNKNOWN_ELEMENT"
	CodeAmbiguousPrefix  Code = "CONFIG_AMBIGUOUS_PREFIX"
	CodeOutOfRange       Code = "CONFIG_OUT_OF_RANGE"
	CodeInvalidEnum      Code = "CONFIG_INVALID_ENUM"
	CodeInvalidUnit      Code = "CONFIG_INVALID_UNIT"
	CodeIncompatibleProp Code = "CONFIG_INCOMPATIBLE_PROPERTY"
	CodeConfigIO         Code = "CONFIG_IO_FAILURE"
	CodeDepthOverflow    Code = "CONFIG_DEPTH_OVERFLOW"
	CodeMissingRequired  Code = "CONFIG_MISSING_REQUIRED"

	// Access-control errors
	CodeMissingProperty    Code = "AC_MISSING_PROPERTY"
	CodeMalformedCert      Code = "AC_MALFORMED_CERTIFICATE"
	CodeSchemaViolation    Code = "AC_SCHEMA_VIOLATION"
	CodeSubjectMismatch    Code = "AC_SUBJECT_MISMATCH"
	CodeNotYetValid        Code = "AC_NOT_YET_VALID"
	CodeExpired            Code = "AC_EXPIRED"
	CodeDomainNotFound     Code = "AC_DOMAIN_NOT_FOUND"
	CodeTopicNotFound      Code = "AC_TOPIC_NOT_FOUND"
	CodeAmbiguousGrant     Code = "AC_AMBIGUOUS_GRANT"
	CodeDeniedByRule       Code = "AC_DENIED_BY_RULE"
	CodeDeniedByDefault    Code = "AC_DENIED_BY_DEFAULT"
	CodeIncompatiblePlugin Code = "AC_INCOMPATIBLE_PLUGIN"

	// Durable-client errors
	CodePublishFailed    Code = "DURABLE_PUBLISH_FAILED"
	CodeRHCInjectFailed  Code = "DURABLE_RHC_INJECT_FAILED"
	CodeUnresolvedReader Code = "DURABLE_UNRESOLVED_READER"
	CodeQuorumTimeout    Code = "DURABLE_QUORUM_TIMEOUT"

	// Runtime invariants — no function in this module returns this code;
	// it exists so panics can be classified by a recover() at a test
	// boundary.
	CodeInvariantViolation Code = "RUNTIME_INVARIANT_VIOLATION"

	CodeInternal Code = "INTERNAL_ERROR"
)

// Severity indicates how the caller should react to an Error.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "error"
	}
}

// Error is ddscore's structured error type: a code, message, optional field
// and structured details, an optional cause, and a severity.
type Error struct {
	Code     Code
	Message  string
	Field    string
	Details  map[string]any
	Cause    error
	Severity Severity
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// GRPCStatus lets *Error satisfy interfaces that call status.FromError,
// e.g. when an access-control decision is surfaced across a gRPC boundary.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Message)
}

func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case CodeParseError, CodeUnknownElement, CodeAmbiguousPrefix, CodeOutOfRange,
		CodeInvalidEnum, CodeInvalidUnit, CodeIncompatibleProp, CodeMissingRequired,
		CodeSchemaViolation:
		return codes.InvalidArgument
	case CodeConfigIO:
		return codes.Unavailable
	case CodeDepthOverflow:
		return codes.ResourceExhausted
	case CodeMissingProperty, CodeMalformedCert, CodeIncompatiblePlugin:
		return codes.FailedPrecondition
	case CodeSubjectMismatch, CodeNotYetValid, CodeExpired, CodeDomainNotFound,
		CodeTopicNotFound, CodeAmbiguousGrant, CodeDeniedByRule, CodeDeniedByDefault:
		return codes.PermissionDenied
	case CodePublishFailed, CodeRHCInjectFailed:
		return codes.Unavailable
	case CodeUnresolvedReader:
		return codes.NotFound
	case CodeQuorumTimeout:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// New creates a standard-severity Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]any), Severity: SeverityError}
}

// Wrap creates an Error that chains an underlying cause.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Details: make(map[string]any), Severity: SeverityError}
}

// WithField attaches the offending field/path (e.g. a config schema path).
func (e *Error) WithField(field string) *Error { e.Field = field; return e }

// WithDetails attaches a structured detail.
func (e *Error) WithDetails(key string, value any) *Error { e.Details[key] = value; return e }

// WithSeverity overrides the default severity.
func (e *Error) WithSeverity(s Severity) *Error { e.Severity = s; return e }

// Is reports whether err is an *Error carrying the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or CodeInternal if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
