package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsExclusionErr reports whether err is a PostgreSQL exclusion constraint
// violation (error code 23P01), raised by the billed-period overlap guard.
func IsExclusionErr(err error) bool {
	if err == nil {
		return false
	}

	if strings.Contains(err.Error(), "conflicting key value violates exclusion constraint") {
		return true
	}
	return strings.Contains(err.Error(), "23P01")
}
