package storage

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
)

// ErrNotFound indicates the requested row does not exist (or is not
// visible to the caller).
var ErrNotFound = errors.New("record not found")

// ErrorClass partitions storage errors by how callers should react
type ErrorClass int

const (
	// ClassNone means no error
	ClassNone ErrorClass = iota

	// ClassTransient errors are likely to succeed on retry
	// (connection reset, timeout, serialization failure, deadlock)
	ClassTransient

	// ClassDuplicateKey is a unique-constraint violation on a natural key
	ClassDuplicateKey

	// ClassFatal errors will not succeed on retry
	// (other constraint violations, malformed statements)
	ClassFatal
)

// PostgreSQL error codes and classes relevant to retry decisions.
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqUniqueViolation     = "23505"
	pqSerializationFail   = "40001"
	pqDeadlockDetected    = "40P01"
	pqConnectionClass     = "08" // connection_exception family
	pqInsufficientClass   = "53" // insufficient_resources family
	pqOperatorIntervClass = "57" // operator_intervention (admin shutdown etc.)
)

// Classify maps a storage error into the retry taxonomy. Context
// cancellation is classified fatal: the caller gave up, retrying on its
// behalf would be wrong.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == pqUniqueViolation:
			return ClassDuplicateKey
		case code == pqSerializationFail, code == pqDeadlockDetected:
			return ClassTransient
		}
		if len(code) >= 2 {
			switch code[:2] {
			case pqConnectionClass, pqInsufficientClass, pqOperatorIntervClass:
				return ClassTransient
			}
		}
		return ClassFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// Driver surfaces a dropped connection as EOF mid-protocol.
		return ClassTransient
	}

	return ClassFatal
}

// IsTransient reports whether the error is worth retrying
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// IsDuplicateKey reports whether the error is a unique-constraint violation
func IsDuplicateKey(err error) bool {
	return Classify(err) == ClassDuplicateKey
}
