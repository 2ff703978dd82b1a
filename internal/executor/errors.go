package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kinds of failure. Every error returned by Engine.Run matches exactly one
// of them with errors.Is.
var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrUnresolvedParam  = errors.New("unresolved parameter")
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrMissingField     = errors.New("missing field")
	ErrHandler          = errors.New("handler failed")
)

// Error is a failure of one query, with enough context to be logged or
// returned to a client verbatim.
type Error struct {
	Kind error
	// Operation is the operation involved, empty during reconciliation of
	// plain fields.
	Operation string
	// Key is the offending key: the parameter name, the missing field.
	Key string
	// Path locates the failure in the query, e.g. "posts[].comments()" or
	// "posts[1].comments".
	Path     string
	Message  string
	Fragment any
	// Err is the handler's own error for ErrHandler.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// KindName is a stable identifier for the error kind, used in responses.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrUnknownOperation):
		return "unknown_operation"
	case errors.Is(err, ErrUnresolvedParam):
		return "unresolved_parameter"
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrHandler):
		return "handler_failed"
	default:
		return "internal"
	}
}

func unknownOperation(op, path string) *Error {
	return &Error{
		Kind:      ErrUnknownOperation,
		Operation: op,
		Path:      path,
		Message:   fmt.Sprintf("no handler registered for %s", op),
	}
}

func unresolvedParam(op, param, path string, declared map[string]any) *Error {
	return &Error{
		Kind:      ErrUnresolvedParam,
		Operation: op,
		Key:       param,
		Path:      path,
		Message:   fmt.Sprintf("no ancestor of %s provides parameter %s", op, param),
		Fragment:  declared,
	}
}

func shapeMismatch(op, path, expected string, got any) *Error {
	return &Error{
		Kind:      ErrShapeMismatch,
		Operation: op,
		Path:      path,
		Message:   fmt.Sprintf("expected %s, got %s", expected, encode(got)),
		Fragment:  got,
	}
}

func missingField(key, path string, output any) *Error {
	return &Error{
		Kind:     ErrMissingField,
		Key:      key,
		Path:     path,
		Message:  fmt.Sprintf("output does not contain expected key %s; got %s", key, encode(output)),
		Fragment: output,
	}
}

func handlerFailed(op, path string, err error) *Error {
	return &Error{Kind: ErrHandler, Operation: op, Path: path, Err: err}
}

// encode renders v for messages; values that do not marshal fall back to
// fmt.
func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
