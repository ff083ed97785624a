package main

import "fmt"

// User-facing error messages. These are rendered into the error page, so they
// should be complete sentences.
const (
	ErrMessageFormUnparseable   = "The submitted form could not be parsed."
	ErrMessageIncorrectPassword = "Incorrect password."
	ErrMessageInternalError     = "An internal error has occurred. Please report this to the server operator."
	ErrMessageListingNotFound   = "Date does not exist."
	ErrMessagePageNotFound      = "Page not found."
)

type ServerError struct {
	Message    string
	StatusCode int
}

func NewServerError(statusCode int, message string) *ServerError {
	return &ServerError{StatusCode: statusCode, Message: message}
}

func (e *ServerError) Error() string {
	return e.Message
}

type RequestTimeoutError struct {
	canceled bool
	elapsed  PrettyDuration
	maximum  PrettyDuration
}

func (e *RequestTimeoutError) Error() string {
	if e.canceled {
		return fmt.Sprintf("The request was canceled after %s (maximum request time is %s).", e.elapsed, e.maximum)
	}
	return fmt.Sprintf("The request timed out after %s (maximum request time is %s).", e.elapsed, e.maximum)
}
