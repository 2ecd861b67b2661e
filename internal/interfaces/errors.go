package interfaces

import (
	"fmt"
	"net/http"
	"strings"
)

// ConfigError reports a deployment problem such as a missing project identifier.
// It is never retried.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CredentialError reports a missing or malformed service credential, or a failed
// token exchange. Status and Body are set when the token endpoint answered non-2xx.
type CredentialError struct {
	Msg    string
	Status int
	Body   string
	Err    error
}

func (e *CredentialError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("credential: %s (status %d)", e.Msg, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("credential: %s: %v", e.Msg, e.Err)
	default:
		return "credential: " + e.Msg
	}
}

func (e *CredentialError) Unwrap() error { return e.Err }

func (e *CredentialError) details() string {
	if body := strings.TrimSpace(e.Body); body != "" {
		return body
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// ValidationError reports a request that is missing required fields.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// UnknownEndpointError reports an endpoint name that matches none of the known operations.
type UnknownEndpointError struct {
	Endpoint string
}

func (e *UnknownEndpointError) Error() string { return "Unknown endpoint: " + e.Endpoint }

// UpstreamError carries a non-2xx provider response verbatim.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Summary returns the short, body-free description used as the response error text.
func (e *UpstreamError) Summary() string {
	text := http.StatusText(e.Status)
	if text == "" {
		text = "unexpected status"
	}
	return fmt.Sprintf("Upstream API error: %d %s", e.Status, text)
}

// ExtractionError reports a successful provider response that carried no usable payload.
type ExtractionError struct {
	Msg string
}

func (e *ExtractionError) Error() string { return "extract: " + e.Msg }

// TimeoutError reports that the caller's deadline expired before a terminal outcome.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return "timeout: " + e.Err.Error()
	}
	return "timeout"
}

func (e *TimeoutError) Unwrap() error { return e.Err }
