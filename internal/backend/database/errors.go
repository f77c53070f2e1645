package database

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrInvalidID = errors.New("invalid id")
	// ErrReference is returned when a write points at a brand, product, user or store that does not exist
	ErrReference = errors.New("referenced record does not exist")
	// ErrDuplicate is returned when a write collides with a unique name or email
	ErrDuplicate = errors.New("record already exists")
)

// constraintError maps SQLite constraint violations onto ErrReference and ErrDuplicate.
// Other errors are returned unchanged.
func constraintError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %v", ErrReference, err)
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
