// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package apperr defines the error kinds shared by the HTTP handlers and the
// worker pipeline, generalizing a repository's ErrNotFound
// sentinel into one typed error covering every failure kind, so both sides
// can map an error to the right status code / job-failure text with a
// single errors.As switch instead of string matching.
package apperr

import "fmt"

// Kind identifies the category of failure.
type Kind string

const (
	KindInputNotFound     Kind = "input_not_found"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindParseFailure      Kind = "parse_failure"
	KindValidationFailure Kind = "validation_failure"
	KindJobNotFound       Kind = "job_not_found"
	KindIllegalTransition Kind = "illegal_transition"
	KindPersistenceFailure Kind = "persistence_failure"
	KindBrokerFailure     Kind = "broker_failure"
	KindTimeout           Kind = "timeout"
)

// Error is a typed application error carrying a Kind plus a human-readable
// message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// HTTPStatus maps a Kind to the HTTP status code the control plane should
// answer with: 4xx for client-caused failures, 5xx for server-caused ones.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInputNotFound, KindJobNotFound:
		return 404
	case KindUnsupportedFormat, KindValidationFailure, KindIllegalTransition:
		return 400
	case KindTimeout:
		return 504
	default:
		return 500
	}
}

// JobFailureText renders the message a failed job's error_details column
// should hold for this kind.
func (k Kind) JobFailureText(detail string) string {
	if k == KindTimeout {
		return "task exceeded time limit"
	}
	return detail
}
