package database

import (
	"errors"

	"github.com/lib/pq"
)

// postgres SQLSTATE codes the repos translate into input errors
const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
	codeNotNullViolation    pq.ErrorCode = "23502"
	codeCheckViolation      pq.ErrorCode = "23514"
	codeStringTooLong       pq.ErrorCode = "22001"
)

func pqCode(err error) (pq.ErrorCode, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, true
	}
	return "", false
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	code, ok := pqCode(err)
	return ok && code == codeUniqueViolation
}

// IsForeignKeyViolation reports whether err is a referential integrity failure.
func IsForeignKeyViolation(err error) bool {
	code, ok := pqCode(err)
	return ok && code == codeForeignKeyViolation
}

// IsRejectedRow reports whether the store refused the row's content
// (constraint or data errors other than uniqueness).
func IsRejectedRow(err error) bool {
	code, ok := pqCode(err)
	if !ok {
		return false
	}
	switch code {
	case codeForeignKeyViolation, codeNotNullViolation, codeCheckViolation, codeStringTooLong:
		return true
	}
	return code.Class() == "22"
}
