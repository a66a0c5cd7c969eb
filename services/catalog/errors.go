package catalog

import (
	"errors"
	"fmt"
)

// ValidationError marks extracted data that fails required-field
// checks. It is never retried, the product goes straight to failed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// StorageError wraps a ledger write failure. It is the only fatal
// class: once the ledger cannot be trusted the run halts.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func IsStorageError(err error) bool {
	var storage *StorageError
	return errors.As(err, &storage)
}

func IsValidationError(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}
