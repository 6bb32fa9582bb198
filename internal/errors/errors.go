// LOCATION: internal/errors/errors.go
//
// Consolidated error definitions for the scanline query engine.
//
// This file provides:
// - Result error codes delivered to consumers
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode mapping
// - Error wrapping utilities

package errors

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// Result error codes - attached to error results delivered to consumers
// ============================================================================

const (
	CodeUnknown       int32 = 1
	CodeConfiguration int32 = 2
	CodeUnresolved    int32 = 3
	CodeScanFailure   int32 = 4
	CodeTooLarge      int32 = 5
	CodeInvariant     int32 = 6
	CodeCancelled     int32 = 7
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeConfiguration:
		return "Configuration"
	case CodeUnresolved:
		return "UnresolvedIdentifier"
	case CodeScanFailure:
		return "ScanFailure"
	case CodeTooLarge:
		return "ResultTooLarge"
	case CodeInvariant:
		return "InvariantViolation"
	case CodeCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Configuration errors (fail synchronously at reset/setup)
	ErrConfiguration = errors.New("configuration error")
	ErrNoOwner       = errors.New("owner may not be nil")
	ErrNoConfig      = errors.New("scan config may not be nil")
	ErrBadOverride   = errors.New("invalid override value")

	// Identifier resolution errors
	ErrUnresolved        = errors.New("unresolved identifier")
	ErrMetricNotFound    = errors.New("metric not found")
	ErrTagKeyNotFound    = errors.New("tag key not found")
	ErrTagValueNotFound  = errors.New("tag value not found")
	ErrUIDNotFound       = errors.New("no name for UID")
	ErrUIDWidth          = errors.New("wrong UID width")
	ErrUIDAlreadyExists  = errors.New("UID already assigned")
	ErrRegistryExhausted = errors.New("UID space exhausted")

	// Scan errors
	ErrScanFailure    = errors.New("scan failure")
	ErrStoreClosed    = errors.New("store is closed")
	ErrTableNotFound  = errors.New("table not found")
	ErrMalformedRow   = errors.New("malformed row")
	ErrBadQualifier   = errors.New("undecodable qualifier")
	ErrResultTooLarge = errors.New("result exceeds sink limits")

	// Invariant errors (programming errors, fail loudly)
	ErrInvariant          = errors.New("internal invariant violation")
	ErrFetchOutstanding   = errors.New("a fetch is already outstanding")
	ErrBucketNotCompleted = errors.New("time bucket set not completed")
	ErrClosed             = errors.New("already closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsConfiguration returns true if err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrNoOwner) ||
		errors.Is(err, ErrNoConfig) ||
		errors.Is(err, ErrBadOverride)
}

// IsUnresolved returns true if err is an identifier resolution error.
func IsUnresolved(err error) bool {
	return errors.Is(err, ErrUnresolved) ||
		errors.Is(err, ErrMetricNotFound) ||
		errors.Is(err, ErrTagKeyNotFound) ||
		errors.Is(err, ErrTagValueNotFound) ||
		errors.Is(err, ErrUIDNotFound)
}

// IsScanFailure returns true if err is a store/scan error.
func IsScanFailure(err error) bool {
	return errors.Is(err, ErrScanFailure) ||
		errors.Is(err, ErrStoreClosed) ||
		errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrMalformedRow) ||
		errors.Is(err, ErrBadQualifier)
}

// IsTooLarge returns true if err is the sink backpressure signal.
func IsTooLarge(err error) bool {
	return errors.Is(err, ErrResultTooLarge)
}

// IsInvariant returns true if err is a programming-error invariant violation.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant) ||
		errors.Is(err, ErrFetchOutstanding) ||
		errors.Is(err, ErrBucketNotCompleted)
}

// ============================================================================
// Error to result code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its result code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case IsConfiguration(err):
		return CodeConfiguration
	case IsUnresolved(err):
		return CodeUnresolved
	case IsTooLarge(err):
		return CodeTooLarge
	case IsInvariant(err):
		return CodeInvariant
	case IsScanFailure(err):
		return CodeScanFailure
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	default:
		return CodeUnknown
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewUnresolved creates a resolution error for a named identifier.
func NewUnresolved(idType, name string) error {
	return fmt.Errorf("%s %q: %w", idType, name, ErrUnresolved)
}

// NewBadOverride creates an invalid-override error for a config key.
func NewBadOverride(key, value string, cause error) error {
	if cause != nil {
		return fmt.Errorf("override %s=%q: %v: %w", key, value, cause, ErrBadOverride)
	}
	return fmt.Errorf("override %s=%q: %w", key, value, ErrBadOverride)
}

// NewScanFailure wraps a store error as a scan failure.
func NewScanFailure(err error) error {
	if err == nil {
		return nil
	}
	if IsScanFailure(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrScanFailure, err)
}

// NewInvariant creates an invariant violation with context.
func NewInvariant(detail string) error {
	return fmt.Errorf("%s: %w", detail, ErrInvariant)
}
