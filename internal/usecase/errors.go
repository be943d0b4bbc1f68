package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrorInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// UserMessage is the sentence shown to the person asking. It never carries
// internal detail.
func (c ErrorCode) UserMessage() string {
	switch c {
	case ErrorInvalidInput:
		return "Please type a question for your piggy bank."
	case ErrorUnauthorized:
		return "I don't recognize this piggy bank. Ask a grown-up to check the setup."
	case ErrorInvalidQuestion:
		return "I can't help with that. Try asking about your money instead."
	case ErrorRateLimited:
		return "I'm getting a lot of questions right now. Please wait a moment and try again."
	case ErrorUpstream:
		return "I'm having trouble thinking right now. Please try again soon."
	default:
		return "Something went wrong on my side. Please try again in a moment."
	}
}

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
