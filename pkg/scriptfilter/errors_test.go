package scriptfilter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dop251/goja"
)

func TestClassifyEvalErrorDistinguishesThrownValues(t *testing.T) {
	vm := goja.New()

	_, err := vm.RunString(`throw new Error("user error");`)
	if err == nil {
		t.Fatal("expected a thrown error")
	}
	fe := classifyEvalError(err)
	if fe.Stage != StageScriptException {
		t.Fatalf("expected StageScriptException, got %s", fe.Stage)
	}
	if !strings.Contains(fe.Message, "user error") {
		t.Fatalf("expected thrown message in %q", fe.Message)
	}

	_, err = vm.RunString(`function (`)
	if err == nil {
		t.Fatal("expected a syntax error")
	}
	fe = classifyEvalError(err)
	if fe.Stage != StageEvalError {
		t.Fatalf("expected StageEvalError, got %s", fe.Stage)
	}
}

func TestFilterErrorFormatting(t *testing.T) {
	fe := &FilterError{Stage: StageMissingFunction, Message: `script defines no callable "filter"`}
	if got := fe.Error(); !strings.Contains(got, string(StageMissingFunction)) {
		t.Fatalf("stage missing from error text: %q", got)
	}

	underlying := errors.New("engine fault")
	fe = &FilterError{Stage: StageEvalError, Err: underlying}
	if !errors.Is(fe, underlying) {
		t.Fatal("FilterError should unwrap to the underlying error")
	}
}

func TestIsStageWithWrappedError(t *testing.T) {
	fe := newMissingFunctionError(FilterFunctionName)
	wrapped := fmt.Errorf("filter stage: %w", fe)

	if !IsStage(wrapped, StageMissingFunction) {
		t.Fatal("IsStage should see through wrapping")
	}
	if IsStage(wrapped, StageEvalError) {
		t.Fatal("IsStage matched the wrong stage")
	}
	if IsStage(errors.New("plain"), StageEvalError) {
		t.Fatal("IsStage matched a non-FilterError")
	}
}
