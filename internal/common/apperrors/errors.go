// Package apperrors provides the error taxonomy shared across the
// orchestrator's components.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies which category of failure an error represents.
type Kind string

const (
	Transport          Kind = "TRANSPORT"
	DiscoveryHttp      Kind = "DISCOVERY_HTTP"
	DiscoveryStructure Kind = "DISCOVERY_STRUCTURE"
	SchemaValidation   Kind = "SCHEMA_VALIDATION"
	TreeBuild          Kind = "TREE_BUILD"
	NodeExecution      Kind = "NODE_EXECUTION"
	CommandRejected    Kind = "COMMAND_REJECTED"
	Fatal              Kind = "FATAL"
)

// AppError carries a diagnostic message and the operation it originated
// from, alongside the wrapped cause.
type AppError struct {
	Kind      Kind
	Op        string
	Message   string
	Err       error
	Retryable bool
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newf(kind Kind, op string, retryable bool, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

func wrapf(kind Kind, op string, err error, retryable bool, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err, Retryable: retryable}
}

// TransportError wraps an MQTT connect/publish/subscribe failure. The
// transport layer itself handles reconnection; this is for callers that
// need to observe the failure without changing controller state.
func TransportError(op string, err error) *AppError {
	return wrapf(Transport, op, err, true, "mqtt operation failed")
}

// DiscoveryHTTPError wraps a failed or non-200 AAS HTTP call.
func DiscoveryHTTPError(op string, err error) *AppError {
	return wrapf(DiscoveryHttp, op, err, false, "aas http call failed")
}

// DiscoveryStructureError reports a malformed or incomplete AAS document.
func DiscoveryStructureError(op, message string) *AppError {
	return newf(DiscoveryStructure, op, false, "%s", message)
}

// SchemaValidationError reports a payload that failed schema validation.
func SchemaValidationError(op string, err error) *AppError {
	return wrapf(SchemaValidation, op, err, false, "schema validation failed")
}

// TreeBuildError wraps an XML fetch, parse, or unknown-node-type failure.
func TreeBuildError(op string, err error) *AppError {
	return wrapf(TreeBuild, op, err, false, "tree build failed")
}

// NodeExecutionError reports a station FAILURE reply or a node-local
// operational error that should propagate as a BT FAILURE.
func NodeExecutionError(op, message string) *AppError {
	return newf(NodeExecution, op, false, "%s", message)
}

// CommandRejectedError reports an external command arriving in a state
// that does not accept it.
func CommandRejectedError(op, command, state string) *AppError {
	return newf(CommandRejected, op, false, "command %s rejected in state %s", command, state)
}

// FatalError wraps a condition requiring immediate, clean shutdown.
func FatalError(op string, err error) *AppError {
	return wrapf(Fatal, op, err, false, "fatal condition")
}

// Is reports whether err is an *AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is an *AppError, or "" otherwise.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
