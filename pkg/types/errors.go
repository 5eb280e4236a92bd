package types

import "fmt"

// ValidationError describes why a candidate is not a valid Record.
type ValidationError struct {
	// Field is the offending field, empty when the candidate as a whole is malformed
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}
