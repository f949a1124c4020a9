package common

import "fmt"

// StoreErrType enumerates the error conditions raised by ledger stores and the
// components built on top of them.
type StoreErrType uint32

const (
	// KeyNotFound is returned when an item is not in the store.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists is returned when a unique key is inserted twice.
	KeyAlreadyExists
	// TooLate is returned when an item has been evicted from a cache window.
	TooLate
	// SkippedIndex is returned when an insert would leave a gap in a
	// contiguous sequence.
	SkippedIndex
	// Empty is returned when a collection contains no items.
	Empty
	// ScopeLockTimeout is returned when a writer could not acquire a scope's
	// write lock within the configured bound. Transient; retry with backoff.
	ScopeLockTimeout
	// DuplicateContent is returned when deduplication is enabled and an
	// identical (scope, content) digest already exists.
	DuplicateContent
	// IncompleteRange is returned when a checkpoint is attempted over a range
	// that is empty or still has in-flight writes. Transient; retry later.
	IncompleteRange
	// UnknownFact is returned when a vote or query references a fact that
	// does not exist. Caller error; not retried.
	UnknownFact
	// UnknownAgent is returned when an operation references an unregistered
	// agent where registration is required. Caller error; not retried.
	UnknownAgent
	// ChainIntegrityViolation is returned when a scope's hash chain is broken.
	// Fatal for the scope; writes are refused until remediation.
	ChainIntegrityViolation
)

// StoreErr is a typed error that identifies the data type, the error
// condition, and the key involved.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a new StoreErr.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface.
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case TooLate:
		m = "Too Late"
	case SkippedIndex:
		m = "Skipped Index"
	case Empty:
		m = "Empty"
	case ScopeLockTimeout:
		m = "Scope Lock Timeout"
	case DuplicateContent:
		m = "Duplicate Content"
	case IncompleteRange:
		m = "Incomplete Range"
	case UnknownFact:
		m = "Unknown Fact"
	case UnknownAgent:
		m = "Unknown Agent"
	case ChainIntegrityViolation:
		m = "Chain Integrity Violation"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErrType.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}

// IsTransient reports whether an error is one that callers are expected to
// retry with backoff, as opposed to caller errors and integrity violations
// which must surface immediately.
func IsTransient(err error) bool {
	storeErr, ok := err.(StoreErr)
	if !ok {
		return false
	}
	return storeErr.errType == ScopeLockTimeout || storeErr.errType == IncompleteRange
}
