package tramite

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error so the worker boundary can decide how to
// react without inspecting individual sentinel values.
const (
	// ErrorKindDefinitional indicates a bad or missing process graph.
	ErrorKindDefinitional = "definitional"

	// ErrorKindConsistency indicates that the persisted state and the
	// command disagree, e.g. a stale pointer.
	ErrorKindConsistency = "consistency"

	// ErrorKindConfiguration indicates a named plugin is missing or broken.
	ErrorKindConfiguration = "configuration"

	// ErrorKindValidation indicates malformed submitted answers. These are
	// normally rejected at the API boundary before a command is enqueued.
	ErrorKindValidation = "validation"
)

// RuntimeError is a classified error. Commands that fail with a RuntimeError
// are logged and dropped by the worker; the queue message is still acked.
type RuntimeError struct {
	Kind    string `json:"kind"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *RuntimeError) Unwrap() error {
	return e.Wrapped
}

func newRuntimeError(kind string, wrapped error, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Kind:    kind,
		Cause:   fmt.Sprintf(format, args...),
		Wrapped: wrapped,
	}
}

// Sentinel errors for the definitional family.
var (
	// ErrProcessNotFound means no process file matched the requested name.
	ErrProcessNotFound = errors.New("process not found")

	// ErrMalformedProcess means a process file is missing required metadata
	// or has no actionable first node.
	ErrMalformedProcess = errors.New("malformed process")

	// ErrElementNotFound means a node lookup exhausted the definition.
	ErrElementNotFound = errors.New("element not found")
)

// Sentinel errors for the runtime-consistency family.
var (
	// ErrInconsistentState means the command references state that no
	// longer exists, e.g. an already-deleted pointer. Duplicate deliveries
	// of an already-processed step land here.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrCannotMove means the execution has no node the runtime can
	// advance or resume at.
	ErrCannotMove = errors.New("cannot move")
)

// ErrMisconfiguredProvider means a named hierarchy or auth provider is
// absent from the registry or failed to construct.
var ErrMisconfiguredProvider = errors.New("misconfigured provider")

// ErrEndOfProcess signals that a forward traversal ran off the end of the
// definition. It is a control-flow signal, not a failure.
var ErrEndOfProcess = errors.New("end of process")

// Classify wraps err in a RuntimeError carrying its taxonomy kind. Errors
// with no recognized sentinel classify as consistency errors, which keeps the
// worker's log-and-drop behavior for transient store failures.
func Classify(err error) *RuntimeError {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr
	}
	kind := ErrorKindConsistency
	switch {
	case errors.Is(err, ErrProcessNotFound),
		errors.Is(err, ErrMalformedProcess),
		errors.Is(err, ErrElementNotFound):
		kind = ErrorKindDefinitional
	case errors.Is(err, ErrMisconfiguredProvider):
		kind = ErrorKindConfiguration
	}
	return newRuntimeError(kind, err, "%s", err.Error())
}

// ValidationErrors collects per-input problems with submitted answers. It is
// produced by form validation at the API boundary, never inside the handler.
type ValidationErrors struct {
	Errors []InputError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed for %d input(s)", len(e.Errors))
}

// InputError describes one rejected input value.
type InputError struct {
	Ref     string `json:"ref"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Ref, e.Message)
}
