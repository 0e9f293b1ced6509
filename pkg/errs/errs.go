// Package errs implements the error taxonomy shared by every component of
// the node: auth failures, illegal state transitions, missing resources,
// unmet preconditions, external-collaborator failures, and malformed
// payloads. Component packages build coded errors with New and Wrap, and
// CodeOf recovers the code so the command surface can render
// {success:false, message} without leaking internals.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error the way the node's command surface needs to
// render it to a caller.
type Code string

const (
	Auth          Code = "auth_error"
	State         Code = "state_error"
	NotFound      Code = "not_found"
	Precondition  Code = "precondition_error"
	External      Code = "external_error"
	Serialization Code = "serialization_error"
)

// CodedError is an error tagged with a taxonomy Code. ExternalError is the
// only code eligible for automatic retry (see pkg/retry).
type CodedError struct {
	Code    Code
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CodedError) Unwrap() error { return e.Err }

// New builds a CodedError with no wrapped cause.
func New(code Code, message string) error {
	return &CodedError{Code: code, Message: message}
}

// Wrap tags err with code and a message, preserving err in the chain.
func Wrap(code Code, message string, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the taxonomy Code of err, if any.
func CodeOf(err error) (Code, bool) {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// Retryable reports whether err is classified External and is therefore
// eligible for the bounded exponential backoff in pkg/retry.
func Retryable(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == External
}
