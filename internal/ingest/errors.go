package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an open record already occupies a URL.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalidTransition is returned when a pending item cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid pending status transition")
	// ErrAlreadyRunning is returned when a job is triggered while a run is in flight.
	ErrAlreadyRunning = errors.New("job already running")
	// ErrInvalidURL is returned when a URL has no scheme or host after canonicalization.
	ErrInvalidURL = errors.New("invalid url")
	// ErrExtraction matches every *ExtractionError.
	ErrExtraction = errors.New("extraction failed")
)

// ExtractionError reports an unreachable or unparseable document.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrExtraction) match any extraction failure.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}
