package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a machine-readable failure class.
type Code string

const (
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeConflict          Code = "CONFLICT"
	CodeNotFound          Code = "NOT_FOUND"
)

// Error is the structured failure returned by the engine.
type Error struct {
	Code          Code
	Message       string
	CurrentState  State
	ValidTriggers []Trigger
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidTransition reports that trigger is not legal from state.
func InvalidTransition(entity EntityType, state State, trigger Trigger, valid []Trigger) *Error {
	return &Error{
		Code:          CodeInvalidTransition,
		Message:       fmt.Sprintf("%s cannot %s from %s", strings.ToLower(string(entity)), trigger, state),
		CurrentState:  state,
		ValidTriggers: valid,
	}
}

func Unauthorized(format string, args ...interface{}) *Error {
	return &Error{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity EntityType, id fmt.Stringer) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", strings.ToLower(string(entity)), id)}
}

// CodeOf returns the engine code carried by err, or "" for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
