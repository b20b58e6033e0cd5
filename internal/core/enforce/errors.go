package enforce

import (
	"errors"
	"fmt"

	"github.com/instanttrade/itnd/internal/core/invariant"
)

var (
	// ErrCircuitBreakerOpen rejects new work while the system is frozen
	// or degraded.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open: system not accepting new work")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
)

// ViolationError reports a failed pre or post check.
type ViolationError struct {
	Phase       invariant.Phase
	InvariantID invariant.ID
	Detail      string
}

func (e *ViolationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("invariant %s violated (%s)", e.InvariantID, e.Phase)
	}
	return fmt.Sprintf("invariant %s violated (%s): %s", e.InvariantID, e.Phase, e.Detail)
}

// SettlementError reports an atomic three-leg failure whose
// compensating rollback completed.
type SettlementError struct {
	InvoiceID string
	Reason    string
	Cause     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement failed for invoice %s: %s", e.InvoiceID, e.Reason)
}

func (e *SettlementError) Unwrap() error { return e.Cause }

// CompromisedError means a compensating rollback itself failed. The
// process freezes and an operator audit is required.
type CompromisedError struct {
	InvariantID invariant.ID
	Cause       error
}

func (e *CompromisedError) Error() string {
	return fmt.Sprintf("system compromised: rollback of invariant %s failed: %v", e.InvariantID, e.Cause)
}

func (e *CompromisedError) Unwrap() error { return e.Cause }
