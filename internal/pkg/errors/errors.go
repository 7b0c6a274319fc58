package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalid        = errors.New("invalid")
	ErrConflict       = errors.New("conflict")
	ErrTooMany        = errors.New("too many requests")
	ErrInternal       = errors.New("internal")
	ErrFileProcessing = errors.New("file processing failed")
	ErrQueueFull      = errors.New("ingest queue full")
	// ErrUnsupportedFileType is a file processing error raised before any parse attempt.
	ErrUnsupportedFileType = fmt.Errorf("%w: unsupported file type", ErrFileProcessing)
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsFileProcessing(err error) bool {
	return errors.Is(err, ErrFileProcessing)
}
