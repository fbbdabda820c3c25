package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure so the CLI and the dev loop can decide how to report it.
type ErrorClass string

const (
	// ErrorClassMissingProject indicates that no mu.toml / mu.state.json pair was found.
	// The user recovers by running `mu init`.
	ErrorClassMissingProject ErrorClass = "missing_project"

	// ErrorClassSubprocess indicates that an external tool (compiler, extractor,
	// deploy CLI, dev server) exited non-zero or could not be started.
	ErrorClassSubprocess ErrorClass = "subprocess"

	// ErrorClassBindings indicates the interface description could not be parsed,
	// type-checked or compiled into client bindings.
	ErrorClassBindings ErrorClass = "bindings"

	// ErrorClassCorruption indicates the persisted config and state disagree structurally.
	ErrorClassCorruption ErrorClass = "corruption"

	// ErrorClassUnsupported indicates a backend kind or template that has no implementation.
	ErrorClassUnsupported ErrorClass = "unsupported"

	// ErrorClassInvalid indicates invalid user input or configuration.
	ErrorClassInvalid ErrorClass = "invalid"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Unit is the function or frontend that caused the error, if applicable.
	Unit string `json:"unit,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	switch {
	case e.Unit != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (unit=%s, operation=%s)", msg, e.Unit, e.Operation)
	case e.Unit != "":
		msg = fmt.Sprintf("%s (unit=%s)", msg, e.Unit)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when class and code match; an empty code on the
// target matches any code of that class.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Class != t.Class {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewMissingProjectError creates a new missing-project error.
func NewMissingProjectError(message string) *EngineError {
	return newError(ErrorClassMissingProject, message, nil)
}

// NewSubprocessError creates a new subprocess error.
func NewSubprocessError(message string, err error) *EngineError {
	return newError(ErrorClassSubprocess, message, err)
}

// NewBindingsError creates a new binding-generation error.
func NewBindingsError(message string, err error) *EngineError {
	return newError(ErrorClassBindings, message, err)
}

// NewCorruptionError creates a new persistence-corruption error.
func NewCorruptionError(message string, err error) *EngineError {
	return newError(ErrorClassCorruption, message, err)
}

// NewUnsupportedError creates a new unsupported-backend error.
func NewUnsupportedError(message string) *EngineError {
	return newError(ErrorClassUnsupported, message, nil)
}

// NewInvalidError creates a new validation error.
func NewInvalidError(message string, err error) *EngineError {
	return newError(ErrorClassInvalid, message, err)
}

// WithUnit adds unit context to an error.
func (e *EngineError) WithUnit(name string) *EngineError {
	e.Unit = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first EngineError in err's chain, or "" if there is none.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsMissingProject returns true if the error is classified as missing_project.
func IsMissingProject(err error) bool {
	return ClassOf(err) == ErrorClassMissingProject
}

// IsSubprocess returns true if the error is classified as subprocess.
func IsSubprocess(err error) bool {
	return ClassOf(err) == ErrorClassSubprocess
}

// IsBindings returns true if the error is classified as bindings.
func IsBindings(err error) bool {
	return ClassOf(err) == ErrorClassBindings
}

// IsCorruption returns true if the error is classified as corruption.
func IsCorruption(err error) bool {
	return ClassOf(err) == ErrorClassCorruption
}

// IsUnsupported returns true if the error is classified as unsupported.
func IsUnsupported(err error) bool {
	return ClassOf(err) == ErrorClassUnsupported
}

// IsInvalid returns true if the error is classified as invalid.
func IsInvalid(err error) bool {
	return ClassOf(err) == ErrorClassInvalid
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeExitStatus        = "EXIT_STATUS"
	ErrCodeStartFailed       = "START_FAILED"
	ErrCodeLengthMismatch    = "LENGTH_MISMATCH"
	ErrCodeNameMismatch      = "NAME_MISMATCH"
	ErrCodeTypeMismatch      = "TYPE_MISMATCH"
	ErrCodeInvalidArtifact   = "INVALID_ARTIFACT"
	ErrCodeMissingCanisterID = "MISSING_CANISTER_ID"
)

// Sentinel errors for errors.Is matching by class (and code, where set).
var (
	ErrNoProject          = &EngineError{Class: ErrorClassMissingProject}
	ErrStructuralMismatch = &EngineError{Class: ErrorClassCorruption}
	ErrUnsupportedBackend = &EngineError{Class: ErrorClassUnsupported}
	ErrSubprocessFailed   = &EngineError{Class: ErrorClassSubprocess}
	ErrBindingsFailed     = &EngineError{Class: ErrorClassBindings}
	ErrReadinessTimeout   = &EngineError{Class: ErrorClassSubprocess, Code: ErrCodeTimeout}
	ErrInvalid            = &EngineError{Class: ErrorClassInvalid}
)
