package domain

import (
	"errors"
	"strings"
)

// Kind classifies an expected business outcome. Errors that carry no Kind are
// infrastructure failures and are surfaced to the caller untouched.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindPolicy            Kind = "policy_violation"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
)

// Error is a typed business rejection. Code is stable and meant for clients;
// Message is the human-readable reason shown to the provider.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf returns the Kind of err, or "" when err is an infrastructure error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	return ""
}

// CodeOf returns the client-facing code carried by err, if any.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "validation_failed"
	}
	return ""
}

// RequiresRefetch reports whether the caller is acting on stale state and must
// re-read the aggregate before retrying.
func RequiresRefetch(err error) bool {
	switch KindOf(err) {
	case KindInvalidTransition, KindNotFound:
		return true
	}
	return false
}

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Add(field, problem string) {
	e.Fields = append(e.Fields, field+" "+problem)
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// OrNil lets callers build a ValidationError unconditionally and return it only
// when something was recorded.
func (e *ValidationError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
