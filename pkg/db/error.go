package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Driver messages per constraint class, for dialects whose errors GORM does
// not translate.
var (
	duplicateKeyMessages = []string{
		"duplicate key value violates unique constraint", // postgres 23505
		"Error 1062",               // mysql
		"UNIQUE constraint failed", // sqlite 2067
	}
	checkViolationMessages = []string{
		"violates check constraint", // postgres 23514
		"Error 3819",                // mysql
		"CHECK constraint failed",   // sqlite 275
	}
)

// IsDuplicateKeyErr reports a unique index violation, such as a replayed
// grant external id or a concurrent account creation.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return containsAny(err.Error(), duplicateKeyMessages)
}

// IsCheckViolation reports a CHECK constraint failure, such as the
// non-negative balance guard on credit_accounts.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), checkViolationMessages)
}

func containsAny(msg string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
