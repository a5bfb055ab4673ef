package possync

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateReceipt marks a receipt whose number was already ingested.
	// It is an idempotency short-circuit, not a failure.
	ErrDuplicateReceipt = errors.New("possync: receipt already ingested")
	// ErrStockAlreadyApplied marks a receipt whose stock movement has
	// already been committed.
	ErrStockAlreadyApplied = errors.New("possync: receipt stock already applied")
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("possync: not found")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("possync: duplicate entry")
	// ErrInvalidProfile indicates a missing or non-positive tenant id.
	ErrInvalidProfile = errors.New("possync: invalid profile")
)

// UnresolvedReferenceError reports a remote id with no local counterpart.
type UnresolvedReferenceError struct {
	Kind     string
	RemoteID string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("possync: unresolved %s %q", e.Kind, e.RemoteID)
}

// ComponentResolutionError reports a bundle component that could not be
// resolved to a local product.
type ComponentResolutionError struct {
	MasterVariantID    string
	ComponentVariantID string
	Err                error
}

func (e *ComponentResolutionError) Error() string {
	return fmt.Sprintf("possync: bundle %s: component %s: %v", e.MasterVariantID, e.ComponentVariantID, e.Err)
}

func (e *ComponentResolutionError) Unwrap() error {
	return e.Err
}
