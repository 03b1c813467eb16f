package models

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrorCode is the stable machine-readable kind carried by every business
// failure. Infrastructure errors (store/connection/timeout/deadlock) are never
// mapped onto a code; they propagate as-is so callers can tell an invalid
// request from an unhealthy system.
type ErrorCode string

const (
	ErrCodeCardNotFound         ErrorCode = "CARD_NOT_FOUND"
	ErrCodeCardInactive         ErrorCode = "CARD_INACTIVE"
	ErrCodeTenantMismatch       ErrorCode = "TENANT_MISMATCH"
	ErrCodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	ErrCodeRoleNotAllowed       ErrorCode = "ROLE_NOT_ALLOWED"
	ErrCodeLoopTypeIncompatible ErrorCode = "LOOP_TYPE_INCOMPATIBLE"
	ErrCodeMethodNotAllowed     ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeLinkedOrderRequired  ErrorCode = "LINKED_ORDER_REQUIRED"
	ErrCodeScanConflict         ErrorCode = "SCAN_CONFLICT"
	ErrCodeScanDuplicate        ErrorCode = "SCAN_DUPLICATE"
)

// DomainError is the tagged business error. Callers switch on Code instead of
// type-testing error values.
type DomainError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func NewDomainErrorWithDetails(code ErrorCode, message string, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, Details: details}
}

// DomainCode extracts the code from an error chain. ok is false for
// infrastructure errors.
func DomainCode(err error) (ErrorCode, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// nonRetryableCodes lists the business failures that re-delivery can never fix.
var nonRetryableCodes = map[ErrorCode]bool{
	ErrCodeCardNotFound:         true,
	ErrCodeCardInactive:         true,
	ErrCodeTenantMismatch:       true,
	ErrCodeInvalidTransition:    true,
	ErrCodeRoleNotAllowed:       true,
	ErrCodeLoopTypeIncompatible: true,
	ErrCodeMethodNotAllowed:     true,
	ErrCodeLinkedOrderRequired:  true,
	ErrCodeScanConflict:         true,
	ErrCodeScanDuplicate:        true,
}

// IsRetryableError reports whether re-driving the operation could succeed.
// Anything without a recognized business code is assumed transient.
func IsRetryableError(err error) bool {
	code, ok := DomainCode(err)
	if !ok {
		return true
	}
	return !nonRetryableCodes[code]
}

const (
	retryBaseDelay = 1000 * time.Millisecond
	retryMaxDelay  = 30000 * time.Millisecond
)

// RetryDelay computes the exponential backoff before attempt n (1-based):
// base 1000ms doubling, capped at 30000ms, plus up to 25% jitter.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			delay = retryMaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
