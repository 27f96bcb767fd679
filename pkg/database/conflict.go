package database

import (
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Postgres error codes that indicate a transient write conflict
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// IsWriteConflict reports whether err is a transient conflict between
// concurrent writers. Callers retry the enclosing transaction a bounded
// number of times before surfacing the error.
func IsWriteConflict(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == pqSerializationFailure || code == pqDeadlockDetected
	}

	return false
}
