// Package errs defines the error taxonomy shared by the scryer packages.
//
// Every failure is a sentinel error, optionally wrapped in a ClassifiedError
// that records which component and operation produced it. Callers branch with
// errors.Is on the sentinels and with IsFatal/IsTransient on the class.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Class says how a caller is expected to react to an error.
type Class int

const (
	// ClassWarning is logged and processing continues.
	ClassWarning Class = iota
	// ClassInvalid is bad input: an unknown name, a mismatched type.
	ClassInvalid
	// ClassTransient may succeed if the caller tries again.
	ClassTransient
	// ClassFatal stops the process.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassWarning:
		return "warning"
	case ClassInvalid:
		return "invalid"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrProtocolVersionMismatch = errors.New("protocol version mismatch")
	ErrTypeMismatch            = errors.New("payload type mismatch")
	ErrUnknownComponent        = errors.New("unknown component")
	ErrTimedOut                = errors.New("timed out")
	ErrServer                  = errors.New("server error")
	ErrUnsubscribedComponent   = errors.New("component not subscribed")
	ErrBadTopic                = errors.New("bad topic")
	ErrFatalLink               = errors.New("link lost")

	ErrMalformedFrame = errors.New("malformed frame")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrClosed         = errors.New("closed")
)

// ClassifiedError wraps a sentinel with its class and origin.
type ClassifiedError struct {
	Class     Class
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	prefix := ce.Operation
	if ce.Component != "" {
		if prefix != "" {
			prefix += " "
		}
		prefix += ce.Component
	}
	msg := ce.Err.Error()
	if ce.Message != "" {
		msg = msg + ": " + ce.Message
	}
	if prefix == "" {
		return msg
	}
	return prefix + ": " + msg
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// New builds a ClassifiedError around a sentinel.
func New(class Class, sentinel error, component, operation, format string, args ...any) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &ClassifiedError{
		Class:     class,
		Err:       sentinel,
		Message:   msg,
		Component: component,
		Operation: operation,
	}
}

// Invalid is shorthand for New(ClassInvalid, ...).
func Invalid(sentinel error, component, operation, format string, args ...any) error {
	return New(ClassInvalid, sentinel, component, operation, format, args...)
}

// Transient is shorthand for New(ClassTransient, ...).
func Transient(sentinel error, component, operation, format string, args ...any) error {
	return New(ClassTransient, sentinel, component, operation, format, args...)
}

// Fatal is shorthand for New(ClassFatal, ...).
func Fatal(sentinel error, component, operation, format string, args ...any) error {
	return New(ClassFatal, sentinel, component, operation, format, args...)
}

// Wrap attaches an operation name to a lower-level error, keeping its class
// if it already has one.
func Wrap(err error, class Class, component, operation string) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		class = ce.Class
	}
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Component: component,
		Operation: operation,
	}
}

// ClassOf returns the class of err. Unclassified errors are transient when
// they come from a context, fatal when they are ErrFatalLink and invalid
// otherwise.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case errors.Is(err, ErrFatalLink):
		return ClassFatal
	case errors.Is(err, ErrTimedOut),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ClassTransient
	case errors.Is(err, ErrProtocolVersionMismatch):
		return ClassWarning
	}
	return ClassInvalid
}

func IsFatal(err error) bool {
	return err != nil && ClassOf(err) == ClassFatal
}

func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}

// ServerError is the error variant of a reply.
type ServerError struct {
	Component string
	Message   string
}

func (e *ServerError) Error() string {
	if e.Component == "" {
		return "server error: " + e.Message
	}
	return fmt.Sprintf("server error on %s: %s", e.Component, e.Message)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// ServerMessage extracts the message the server attached to an error reply.
func ServerMessage(err error) (string, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message, true
	}
	return "", false
}
