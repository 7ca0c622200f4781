package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned when a queue message cannot be decoded into a job payload
	ErrInvalidPayload = errors.New("invalid job payload")
)

// PermanentError marks failures that another attempt cannot fix. The pool
// dead-letters them without consuming the retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should skip retries
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrInvalidPayload) || errors.As(err, &permanent)
}
