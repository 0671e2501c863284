// Package errors provides error wrapping utilities for context-aware error messages
// and the error classification shared by every pipeline stage.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can report it uniformly.
type Kind string

const (
	KindInternal      Kind = "internal"
	KindConfiguration Kind = "configuration"
	KindDownload      Kind = "download"
	KindDecompression Kind = "decompression"
	KindExtraction    Kind = "extraction"
	KindVerification  Kind = "verification"
	KindAcquisition   Kind = "acquisition"
	KindRender        Kind = "render"
	KindPush          Kind = "push"
	KindNotFound      Kind = "not_found"
	KindLock          Kind = "lock"
)

// Error is a classified error. Detail carries raw diagnostic text (stderr,
// per-source failures) that is surfaced verbatim to callers.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Cause)
		}
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithKind wraps err with a classification and context message.
// If err is nil, it returns nil.
func WithKind(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// WithDetail attaches raw diagnostic text to a classified error.
func WithDetail(kind Kind, err error, message, detail string) error {
	return &Error{Kind: kind, Message: message, Detail: detail, Cause: err}
}

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// KindOf returns the classification of the outermost classified error in
// err's chain, or KindInternal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the first non-empty Detail found in err's chain.
func DetailOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Detail != "" {
			return e.Detail
		}
		err = e.Cause
	}
	return ""
}

// Is reports whether err is classified as kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}
