package chat

import "errors"

// Code classifies a user-facing chat error.
type Code string

const (
	CodeMissingModel  Code = "missing_model"
	CodeMissingPrompt Code = "missing_prompt"
	CodeRateLimited   Code = "rate_limited"
	CodeExecutor      Code = "executor"
)

// Error is a failure whose message is safe to show the user verbatim.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a user-facing error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError extracts a user-facing error from err's chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
