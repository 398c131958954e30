package file

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("file is empty")
	// ErrValidation is returned when upload parameters would produce an unsafe path.
	ErrValidation = errors.New("invalid upload parameters")
	// ErrNotFound is returned for unknown, provisional or soft-deleted files.
	ErrNotFound = errors.New("file not found")
	// ErrCanceled is returned when the caller's context ends mid-operation.
	ErrCanceled = errors.New("file operation canceled")
)

// StorageError is the generic save failure surfaced to callers. Message is safe
// to show to clients; Err keeps the cause for logs.
type StorageError struct {
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storeFailed(filename string, err error) *StorageError {
	return &StorageError{
		Message: fmt.Sprintf("could not store file %s, please try again", filename),
		Err:     err,
	}
}
