package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrEndpointRequired is returned when no service endpoint is configured.
	ErrEndpointRequired = errors.New("intelligence endpoint is required")

	// ErrEmptyPrompt is returned for items without a prompt.
	ErrEmptyPrompt = errors.New("item prompt is empty")
)

// ErrorClass represents a classification of call failures. It is used for
// metrics and logs only; the engine retries every class the same way.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 upstream rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents responses that are not a JSON object.
	ErrorClassDecode ErrorClass = "decode"
)

// CallError represents a failed intelligence call with additional context.
type CallError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("intelligence %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("intelligence %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CallError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err, or "" when err is not a CallError.
func ClassOf(err error) ErrorClass {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Class
	}
	return ""
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == 429:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
