// Package interfaces defines the shared request, result and error shapes used by the gateway.
// Every component speaks in these types so that the HTTP boundary can validate requests once
// and translate failures into a single structured error body.
package interfaces

import (
	"errors"
	"net/http"
	"strings"
)

// ErrorMessage encapsulates an error with an associated HTTP status code.
// This structure is what the HTTP layer serialises into {"error": ..., "details": ...}.
type ErrorMessage struct {
	// StatusCode is the HTTP status code returned to the caller.
	StatusCode int

	// Error is the human-readable error summary.
	Error string

	// Details optionally carries the upstream body or the wrapped cause.
	Details string
}

// ToErrorMessage classifies err and returns the response the gateway should emit for it.
// Request-shape problems map to 400; everything else, including unknown endpoints, maps to 500.
func ToErrorMessage(err error) *ErrorMessage {
	if err == nil {
		return nil
	}
	msg := &ErrorMessage{StatusCode: http.StatusInternalServerError, Error: err.Error()}

	var (
		validationErr *ValidationError
		unknownErr    *UnknownEndpointError
		upstreamErr   *UpstreamError
		configErr     *ConfigError
		credErr       *CredentialError
		extractErr    *ExtractionError
		timeoutErr    *TimeoutError
	)
	switch {
	case errors.As(err, &validationErr):
		msg.StatusCode = http.StatusBadRequest
		msg.Error = validationErr.Error()
	case errors.As(err, &unknownErr):
		msg.Error = unknownErr.Error()
	case errors.As(err, &upstreamErr):
		msg.Error = upstreamErr.Summary()
		msg.Details = strings.TrimSpace(upstreamErr.Body)
	case errors.As(err, &credErr):
		msg.Error = "Credential error: " + credErr.Msg
		msg.Details = credErr.details()
	case errors.As(err, &configErr):
		msg.Error = "Configuration error: " + configErr.Msg
		if configErr.Err != nil {
			msg.Details = configErr.Err.Error()
		}
	case errors.As(err, &extractErr):
		msg.Error = extractErr.Error()
	case errors.As(err, &timeoutErr):
		msg.Error = "Upstream request timed out"
		if timeoutErr.Err != nil {
			msg.Details = timeoutErr.Err.Error()
		}
	}
	return msg
}
