package llm

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes cleanup failures.
type ErrorKind string

const (
	// KindSchemaInvalid tags a response that failed schema validation.
	KindSchemaInvalid ErrorKind = "schema_invalid"
	// KindProvider tags an upstream model failure.
	KindProvider ErrorKind = "provider_error"
	// KindTimeout tags a call that exceeded the overall deadline.
	KindTimeout ErrorKind = "timeout"
)

// Error is a tagged failure from the orchestrator or provider.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind extracts the failure category, defaulting to KindProvider for
// untagged errors.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProvider
}
