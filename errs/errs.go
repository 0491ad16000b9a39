// Copyright (c) 2015 Arista Networks, Inc.  All rights reserved.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the LICENSE file.

// Package errs defines the error taxonomy shared by every component
// of the collector, so the supervisor can decide whether a failure
// is retryable without knowing which package produced it.
package errs

import "fmt"

// Kind classifies an error into one of the categories the supervisor
// and connectors branch on.
type Kind string

// Error kinds.
const (
	// KindConfig indicates a malformed or incomplete configuration.
	KindConfig Kind = "config"
	// KindConnect indicates a dial-in connector failed to establish
	// or maintain a connection to a device.
	KindConnect Kind = "connect"
	// KindRPC indicates a gRPC call returned a non-OK status after a
	// connection was established.
	KindRPC Kind = "rpc"
	// KindDecode indicates a raw payload could not be unmarshaled
	// from its wire encoding.
	KindDecode Kind = "decode"
	// KindParse indicates a decoded message could not be normalized
	// into a ParsedResponse.
	KindParse Kind = "parse"
	// KindSinkRetryable indicates an upload failed in a way that is
	// expected to succeed on retry (e.g. a 5xx response).
	KindSinkRetryable Kind = "sink-retryable"
	// KindSinkPermanent indicates an upload failed in a way retrying
	// will not fix (e.g. a malformed request body).
	KindSinkPermanent Kind = "sink-permanent"
)

// Error is the common error type produced across the collector.
// Component is the package that raised it, e.g. "dialin" or
// "sink.elasticsearch".
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Component, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped
// error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind.
func New(kind Kind, component, message string, err error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Err: err}
}

// Retryable reports whether err, if it is (or wraps) an *Error,
// indicates a condition the caller should retry. Non-Error values are
// treated as non-retryable.
func Retryable(err error) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	switch e.Kind {
	case KindSinkRetryable, KindConnect:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, or
// the empty Kind otherwise.
func KindOf(err error) Kind {
	var e *Error
	if !asError(err, &e) {
		return ""
	}
	return e.Kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
