package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Driver messages for a unique violation: postgres 23505 and sqlite 2067.
var duplicateMarkers = []string{
	"duplicate key value violates unique constraint",
	"UNIQUE constraint failed",
}

// IsDuplicateKeyErr reports whether err is a unique violation from any
// supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	for _, marker := range duplicateMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsDuplicateOn reports whether err is a unique violation that names the
// given index or column. Postgres names the index, sqlite names table.column.
func IsDuplicateOn(err error, names ...string) bool {
	if !IsDuplicateKeyErr(err) {
		return false
	}
	msg := err.Error()
	for _, name := range names {
		if name != "" && strings.Contains(msg, name) {
			return true
		}
	}
	return false
}
