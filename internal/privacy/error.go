package privacy

// SanitizedError reports a scrubbed message while keeping the original
// error reachable through Unwrap.
type SanitizedError struct {
	original     error
	sanitizedMsg string
}

// Error returns the scrubbed message.
func (e *SanitizedError) Error() string {
	return e.sanitizedMsg
}

// Unwrap returns the original error.
func (e *SanitizedError) Unwrap() error {
	return e.original
}

// WrapError scrubs err's message with ScrubMessage. It returns nil for nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{
		original:     err,
		sanitizedMsg: ScrubMessage(err.Error()),
	}
}
