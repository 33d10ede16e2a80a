package payload

import (
	"fmt"
	"regexp"
)

// ValidationError reports the first violated limit of a spec. Limit and Actual
// are zero when the violation is not a size bound.
type ValidationError struct {
	Field  string
	Limit  int
	Actual int
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Limit > 0 || e.Actual > 0 {
		return fmt.Sprintf("validation failed: %s: %s (limit %d, got %d)", e.Field, e.Reason, e.Limit, e.Actual)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func tooLong(field string, limit, actual int) *ValidationError {
	return &ValidationError{Field: field, Limit: limit, Actual: actual, Reason: "too long"}
}

func tooMany(field string, limit, actual int) *ValidationError {
	return &ValidationError{Field: field, Limit: limit, Actual: actual, Reason: "too many items"}
}

func invalid(field string, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

var snowflakeRe = regexp.MustCompile(`^[0-9]{17,19}$`)

// ValidateSnowflake checks that id is a 17-19 digit platform identifier.
func ValidateSnowflake(field string, id string) error {
	if !snowflakeRe.MatchString(id) {
		return invalid(field, "must be a 17-19 digit identifier")
	}
	return nil
}
