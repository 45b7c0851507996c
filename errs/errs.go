// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package errs defines the error kinds shared across the codec,
// validator, store, session and engine packages. Every public
// operation returns one of these instead of a bare error string so
// callers can branch on kind with errors.As.
package errs

import "fmt"

// Kind identifies which subsystem rejected an operation and why,
// independent of the human-readable message wrapped alongside it.
type Kind int

const (
	_ Kind = iota
	KindParse
	KindSession
	KindConfig
	KindTransport
	KindStore
	KindIO
	KindSerialization
	KindSsl
	KindConnection
	KindCertificate
	KindSessionNotFound
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindSession:
		return "SessionError"
	case KindConfig:
		return "ConfigError"
	case KindTransport:
		return "TransportError"
	case KindStore:
		return "StoreError"
	case KindIO:
		return "IoError"
	case KindSerialization:
		return "SerializationError"
	case KindSsl:
		return "SslError"
	case KindConnection:
		return "ConnectionError"
	case KindCertificate:
		return "CertificateError"
	case KindSessionNotFound:
		return "SessionNotFound"
	default:
		return "UnknownError"
	}
}

// Error is the common error shape returned by every public operation
// in this module: a Kind plus a human-readable description and an
// optional wrapped cause.
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

// Is allows errors.Is(err, &errs.Error{Kind: errs.KindParse})-style
// checks by matching on Kind when compared against another *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newf(k Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Parse(format string, args ...interface{}) *Error { return newf(KindParse, nil, format, args...) }
func ParseWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindParse, cause, format, args...)
}

func Session(format string, args ...interface{}) *Error {
	return newf(KindSession, nil, format, args...)
}

func Config(format string, args ...interface{}) *Error {
	return newf(KindConfig, nil, format, args...)
}
func ConfigWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindConfig, cause, format, args...)
}

func Transport(format string, args ...interface{}) *Error {
	return newf(KindTransport, nil, format, args...)
}
func TransportWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindTransport, cause, format, args...)
}

func Store(format string, args ...interface{}) *Error { return newf(KindStore, nil, format, args...) }
func StoreWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindStore, cause, format, args...)
}

func IO(format string, args ...interface{}) *Error { return newf(KindIO, nil, format, args...) }
func IOWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindIO, cause, format, args...)
}

func Serialization(format string, args ...interface{}) *Error {
	return newf(KindSerialization, nil, format, args...)
}
func SerializationWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindSerialization, cause, format, args...)
}

func Ssl(format string, args ...interface{}) *Error { return newf(KindSsl, nil, format, args...) }
func SslWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindSsl, cause, format, args...)
}

func Connection(format string, args ...interface{}) *Error {
	return newf(KindConnection, nil, format, args...)
}
func ConnectionWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindConnection, cause, format, args...)
}

func Certificate(format string, args ...interface{}) *Error {
	return newf(KindCertificate, nil, format, args...)
}
func CertificateWrap(cause error, format string, args ...interface{}) *Error {
	return newf(KindCertificate, cause, format, args...)
}

func SessionNotFound(id string) *Error {
	return newf(KindSessionNotFound, nil, "no session registered for %q", id)
}
