// Package xerrors defines the typed error taxonomy xronox returns to its
// callers (spec §7). Every public operation returns one of these types (or
// wraps one with %w), so callers can use errors.As instead of string
// matching.
package xerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an xronox error for callers that want a coarse switch
// without importing every concrete type.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindOptimisticLock   Kind = "optimistic_lock"
	KindRouteNotFound    Kind = "route_not_found"
	KindConfigRefMissing Kind = "config_ref_missing"
	KindStorage          Kind = "storage"
	KindTxn              Kind = "txn"
	KindExternalization  Kind = "externalization"
	KindQueued           Kind = "queued"
)

// baseError carries the fields common to every xronox error type.
type baseError struct {
	kind Kind
	msg  string
	err  error
}

func (e *baseError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *baseError) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *baseError) Kind() Kind { return e.kind }

// ValidationError is returned when a caller-supplied value fails a
// structural check (missing required indexed property, malformed id,
// config mismatch with the shape a collection expects).
type ValidationError struct{ *baseError }

// NewValidationError builds a ValidationError.
func NewValidationError(msg string, cause error) *ValidationError {
	return &ValidationError{&baseError{kind: KindValidation, msg: msg, err: cause}}
}

// NotFoundError is returned when a requested item, version, or collection
// does not exist (or is logically deleted and the caller didn't ask to
// include deleted items).
type NotFoundError struct{ *baseError }

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(msg string, cause error) *NotFoundError {
	return &NotFoundError{&baseError{kind: KindNotFound, msg: msg, err: cause}}
}

// OptimisticLockError is returned when a Head update loses a CAS race
// against a concurrent writer (spec's OptimisticLock, mapped directly onto
// the document store's native revision-conflict mechanism).
type OptimisticLockError struct {
	*baseError
	ExpectedRev string
	ActualRev   string
}

// NewOptimisticLockError builds an OptimisticLockError.
func NewOptimisticLockError(expected, actual string, cause error) *OptimisticLockError {
	return &OptimisticLockError{
		baseError:   &baseError{kind: KindOptimisticLock, msg: fmt.Sprintf("expected rev %q, found %q", expected, actual), err: cause},
		ExpectedRev: expected,
		ActualRev:   actual,
	}
}

// RouteNotFoundError is returned when a RouteContext does not resolve to
// any configured backend (no generic fallback and no matching domain or
// tenant entry).
type RouteNotFoundError struct{ *baseError }

// NewRouteNotFoundError builds a RouteNotFoundError.
func NewRouteNotFoundError(msg string) *RouteNotFoundError {
	return &RouteNotFoundError{&baseError{kind: KindRouteNotFound, msg: msg}}
}

// ConfigRefMissingError is returned when a BackendRef names a ConnRef that
// is not present in the Config's connection maps.
type ConfigRefMissingError struct{ *baseError }

// NewConfigRefMissingError builds a ConfigRefMissingError.
func NewConfigRefMissingError(msg string) *ConfigRefMissingError {
	return &ConfigRefMissingError{&baseError{kind: KindConfigRefMissing, msg: msg}}
}

// StorageError wraps an underlying document-store or object-store driver
// error that doesn't map to a more specific xronox kind.
type StorageError struct{ *baseError }

// NewStorageError builds a StorageError.
func NewStorageError(msg string, cause error) *StorageError {
	return &StorageError{&baseError{kind: KindStorage, msg: msg, err: cause}}
}

// TxnError is returned when the write-path saga's commit fails after its
// object writes. CompensationFailed reports whether deleting those
// objects also failed, leaving state that needs operator attention.
type TxnError struct {
	*baseError
	CompensationFailed bool
}

// NewTxnError builds a TxnError.
func NewTxnError(msg string, compensationFailed bool, cause error) *TxnError {
	return &TxnError{
		baseError:          &baseError{kind: KindTxn, msg: msg, err: cause},
		CompensationFailed: compensationFailed,
	}
}

// ExternalizationError is returned when a base64 property fails to decode
// or fails to upload to the object store.
type ExternalizationError struct{ *baseError }

// NewExternalizationError builds an ExternalizationError.
func NewExternalizationError(msg string, cause error) *ExternalizationError {
	return &ExternalizationError{&baseError{kind: KindExternalization, msg: msg, err: cause}}
}

// QueuedError is not a failure: it signals that a write was durably
// queued for the fallback worker instead of being applied inline. Callers
// that want "fire and forget unless truly broken" semantics can treat
// this as success.
type QueuedError struct {
	*baseError
	RequestID string
}

// NewQueuedError builds a QueuedError.
func NewQueuedError(requestID string, cause error) *QueuedError {
	return &QueuedError{
		baseError: &baseError{kind: KindQueued, msg: fmt.Sprintf("write queued as %s", requestID), err: cause},
		RequestID: requestID,
	}
}

// KindOf extracts the Kind from any xronox error, or "" if err is nil or
// not one of ours.
func KindOf(err error) Kind {
	var v interface{ Kind() Kind }
	if errors.As(err, &v) {
		return v.Kind()
	}
	return ""
}

// IsNotFound is a convenience check mirroring errors.Is for the NotFound
// family.
func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

// IsOptimisticLock reports whether err is (or wraps) an OptimisticLockError.
func IsOptimisticLock(err error) bool {
	var v *OptimisticLockError
	return errors.As(err, &v)
}

// secretKeyHints are substring fragments treated as sensitive key names
// when Redact walks a map.
var secretKeyHints = []string{"password", "secret", "token", "apikey", "api_key", "accesskey", "access_key"}

// Redact returns a shallow copy of m with sensitive-looking values masked.
// Only top-level keys are checked. Nothing in the module calls it: log
// fields and error messages are built without a redaction pass.
func Redact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		if looksSecret(k) {
			out[k] = "***REDACTED***"
			continue
		}
		out[k] = val
	}
	return out
}

func looksSecret(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
