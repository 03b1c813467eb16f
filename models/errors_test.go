package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDomainCode_Extraction(t *testing.T) {
	err := NewDomainError(ErrCodeCardNotFound, "card not found")
	code, ok := DomainCode(err)
	if !ok || code != ErrCodeCardNotFound {
		t.Fatalf("DomainCode = %s, %v", code, ok)
	}

	wrapped := fmt.Errorf("loading card: %w", err)
	code, ok = DomainCode(wrapped)
	if !ok || code != ErrCodeCardNotFound {
		t.Fatalf("DomainCode through wrap = %s, %v", code, ok)
	}

	if _, ok := DomainCode(errors.New("connection reset")); ok {
		t.Fatal("infrastructure errors must not carry a domain code")
	}
}

func TestIsRetryableError_Classification(t *testing.T) {
	nonRetryable := []ErrorCode{
		ErrCodeCardNotFound, ErrCodeCardInactive, ErrCodeTenantMismatch,
		ErrCodeInvalidTransition, ErrCodeRoleNotAllowed, ErrCodeLoopTypeIncompatible,
		ErrCodeMethodNotAllowed, ErrCodeLinkedOrderRequired,
		ErrCodeScanConflict, ErrCodeScanDuplicate,
	}
	for _, code := range nonRetryable {
		if IsRetryableError(NewDomainError(code, "x")) {
			t.Errorf("%s must be non-retryable", code)
		}
	}

	if !IsRetryableError(errors.New("dial tcp: connection refused")) {
		t.Error("unknown errors must be retryable")
	}
}

func TestRetryDelay_Bounds(t *testing.T) {
	// attempt 1: 1000ms base, up to +25% jitter
	for i := 0; i < 50; i++ {
		d := RetryDelay(1)
		if d < time.Second || d > 1250*time.Millisecond {
			t.Fatalf("attempt 1 delay %s out of [1s, 1.25s]", d)
		}
	}

	// attempt 3: 4000ms base
	for i := 0; i < 50; i++ {
		d := RetryDelay(3)
		if d < 4*time.Second || d > 5*time.Second {
			t.Fatalf("attempt 3 delay %s out of [4s, 5s]", d)
		}
	}

	// deep attempts cap at 30s base
	for i := 0; i < 50; i++ {
		d := RetryDelay(20)
		if d < 30*time.Second || d > 37500*time.Millisecond {
			t.Fatalf("capped delay %s out of [30s, 37.5s]", d)
		}
	}

	// degenerate attempt numbers behave like the first attempt
	if d := RetryDelay(0); d < time.Second || d > 1250*time.Millisecond {
		t.Fatalf("attempt 0 delay %s out of [1s, 1.25s]", d)
	}
}
