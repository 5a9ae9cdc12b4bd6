package handlers

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// Error messages returned to clients.
const (
	msgNotFound      = "Short code not found"
	msgExpired       = "Short code expired"
	msgInvalidURL    = "Invalid URL data"
	msgInternalError = "Internal server error"
	msgShortenFailed = "Failed to create short URL"
	msgInvalidCursor = "Invalid cursor"
)

// ErrorModel is the body of every error response.
type ErrorModel struct {
	status int

	Message string `doc:"Short description of the error" json:"error"`
	Details string `doc:"Extra context, only exposed in development mode" json:"details,omitempty"`
}

func (e *ErrorModel) Error() string {
	return e.Message
}

func (e *ErrorModel) GetStatus() int {
	return e.status
}

// UseErrorModel makes huma render every error, including its own validation
// errors, as an ErrorModel.
func UseErrorModel() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		details := make([]string, 0, len(errs))
		for _, err := range errs {
			if err != nil {
				details = append(details, err.Error())
			}
		}

		return &ErrorModel{status: status, Message: msg, Details: strings.Join(details, "; ")}
	}
}

func newError(status int, msg string) *ErrorModel {
	return &ErrorModel{status: status, Message: msg}
}

// errorResponder builds server errors, attaching the cause only in development mode.
type errorResponder struct {
	development bool
}

func (r errorResponder) serverError(status int, msg string, cause error) *ErrorModel {
	e := newError(status, msg)
	if r.development && cause != nil {
		e.Details = cause.Error()
	}

	return e
}
