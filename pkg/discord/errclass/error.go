package errclass

import (
	"fmt"
	"strings"
)

// Error is a classified failure carrying call context. It is what the Retry
// Engine returns once a call is terminal.
type Error struct {
	Classified
	Op       string
	Target   string
	Attempts int
	Err      error
}

// Wrap classifies err and attaches call context. A nil err returns nil.
func Wrap(op string, target string, attempts int, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Classified: Classify(err),
		Op:         op,
		Target:     target,
		Attempts:   attempts,
		Err:        err,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s", e.Kind)
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
