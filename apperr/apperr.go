/*
Package apperr defines the error taxonomy shared by manga-cli's packages.

Every failure that can reach the CLI is either an [*Error] or wraps one, so the
command layer can turn it into a single structured payload:

	{"error": "manga not found: 1234", "code": "NOT_FOUND"}

Lower layers keep wrapping with fmt.Errorf("...: %w", err); [As] and [CodeOf]
walk the chain.
*/
package apperr

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Code is a machine-readable error identifier.
type Code string

const (
	CodeTransport Code = "TRANSPORT_ERROR"
	CodeHTTP      Code = "HTTP_ERROR"
	CodeDecode    Code = "DECODE_ERROR"
	CodeNotFound  Code = "NOT_FOUND"
	CodeDownload  Code = "DOWNLOAD_ERROR"
	CodeUsage     Code = "USAGE_ERROR"
	CodeCache     Code = "CACHE_ERROR"
	CodeInternal  Code = "INTERNAL_ERROR"
)

// maxBodyLen bounds how much of a response body an HTTP error keeps.
const maxBodyLen = 512

// Error is the canonical error type for manga-cli.
type Error struct {
	// Code identifies the failure class.
	Code Code `json:"code"`
	// Message is the human-readable description.
	Message string `json:"error"`
	// Status is the remote HTTP status for CodeHTTP errors.
	Status int `json:"status,omitempty"`
	// Body is the (truncated) remote response body for CodeHTTP errors.
	Body string `json:"-"`
	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *Error) Unwrap() error { return e.Cause }

// Transport creates an error for an unreachable host, a timeout or any
// other failure before a response was received.
func Transport(cause error) *Error {
	return &Error{
		Code:    CodeTransport,
		Message: "transport failure",
		Cause:   cause,
	}
}

// HTTP creates an error for a non-2xx response.
func HTTP(status int, body string) *Error {
	if len(body) > maxBodyLen {
		// Cut on a rune boundary.
		cut := maxBodyLen
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return &Error{
		Code:    CodeHTTP,
		Message: fmt.Sprintf("unexpected status %d", status),
		Status:  status,
		Body:    body,
	}
}

// Decode creates an error for malformed JSON or unsupported image bytes.
func Decode(what string, cause error) *Error {
	return &Error{
		Code:    CodeDecode,
		Message: "failed to decode " + what,
		Cause:   cause,
	}
}

// NotFound creates an error for an id with no remote record.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// Download creates an error for an asset that could neither be found in the
// cache nor fetched and stored.
func Download(url string, cause error) *Error {
	return &Error{
		Code:    CodeDownload,
		Message: "failed to download " + url,
		Cause:   cause,
	}
}

// Usage creates an error for invalid caller input.
func Usage(msg string) *Error {
	return &Error{
		Code:    CodeUsage,
		Message: msg,
	}
}

// Cache creates an error for a local cache I/O failure.
func Cache(msg string, cause error) *Error {
	return &Error{
		Code:    CodeCache,
		Message: msg,
		Cause:   cause,
	}
}

// As returns the first [*Error] in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the code of the first [*Error] in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return CodeInternal
}

// IsCode reports whether err's chain carries an [*Error] with the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Payload returns the structured error object emitted by the CLI.
// Errors outside the taxonomy become INTERNAL_ERROR with err's text.
func Payload(err error) *Error {
	ae, ok := As(err)
	if !ok {
		return &Error{Code: CodeInternal, Message: err.Error()}
	}
	return &Error{
		Code:    ae.Code,
		Message: err.Error(),
		Status:  ae.Status,
	}
}
