// Package apperror holds the failure kinds surfaced to callers and their HTTP
// status mapping.
package apperror

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindInput             Kind = "input"
	KindInvalidHandle     Kind = "invalid_handle"
	KindSecurityViolation Kind = "security_violation"
	KindUploadFailed      Kind = "upload_failed"
	KindGenerationFailed  Kind = "generation_failed"
	KindNoAudioExtracted  Kind = "no_audio_extracted"
	KindDownloadFailed    Kind = "download_failed"
	KindInternal          Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message is the text shown to API callers. Client faults expose only their
// own message; processing faults include the underlying cause.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && HTTPStatus(err) == http.StatusBadRequest {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput, KindInvalidHandle, KindSecurityViolation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
