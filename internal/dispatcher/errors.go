package dispatcher

import "fmt"

// ValidationError rejects a job payload. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid job: " + e.Message
	}
	return fmt.Sprintf("invalid job %s: %s", e.Field, e.Message)
}
