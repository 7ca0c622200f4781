package domain

const (
	// HeaderAttempt counts how many times a payload has been delivered via republish.
	// A message without the header is on its first attempt.
	HeaderAttempt = "x-attempt"

	// ContentTypeJSON is set on every published payload
	ContentTypeJSON = "application/json"
)
