package scriptfilter

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// FailureStage categorizes where a filter operation failed.
type FailureStage string

const (
	// StageEngineInit means the scripting runtime could not be constructed.
	StageEngineInit FailureStage = "engine_init"

	// StageScriptException means the script threw during top-level evaluation.
	StageScriptException FailureStage = "script_exception"

	// StageEvalError means top-level evaluation failed without a thrown
	// value (syntax error, engine fault, interrupt).
	StageEvalError FailureStage = "eval_error"

	// StageMissingFunction means the script evaluated but exposed no
	// callable under the expected global name.
	StageMissingFunction FailureStage = "missing_function"
)

// FilterError is a stage-level failure of a script operation. Per-node call
// failures are not represented here: they are logged and the node is dropped,
// but the operation as a whole still succeeds.
type FilterError struct {
	// Stage identifies the failing phase
	Stage FailureStage

	// Message is the human-readable error text (for thrown exceptions,
	// the string representation of the thrown value)
	Message string

	// Err is the underlying engine error, if any
	Err error
}

// Error implements the error interface
func (e *FilterError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("[%s] %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error
func (e *FilterError) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is a FilterError with the given stage.
func IsStage(err error, stage FailureStage) bool {
	var fe *FilterError
	if errors.As(err, &fe) {
		return fe.Stage == stage
	}
	return false
}

// classifyEvalError converts a top-level evaluation error into a FilterError,
// distinguishing a thrown script value from a non-exception engine fault.
func classifyEvalError(err error) *FilterError {
	if exc, ok := err.(*goja.Exception); ok {
		msg := exc.Error()
		if v := exc.Value(); v != nil {
			msg = v.String()
		}
		return &FilterError{Stage: StageScriptException, Message: msg, Err: exc}
	}
	return &FilterError{Stage: StageEvalError, Message: err.Error(), Err: err}
}

func newEngineInitError(err error) *FilterError {
	return &FilterError{Stage: StageEngineInit, Message: "failed to construct scripting runtime", Err: err}
}

func newMissingFunctionError(name string) *FilterError {
	return &FilterError{Stage: StageMissingFunction, Message: fmt.Sprintf("script defines no callable %q", name)}
}
