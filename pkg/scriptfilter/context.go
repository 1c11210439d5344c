// Package scriptfilter evaluates user-supplied scripts against proxy node
// lists. A script defines a global function (filter for retention, compare
// for ordering) and the evaluator calls it once per node, using the result
// to mutate the list in place.
//
// A Context wraps one goja runtime with its isolated global environment.
// It is created lazily by the owning settings value, reused for every
// evaluation within one conversion request, and is not safe for concurrent
// use: each conversion job must own its own Context.
package scriptfilter

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Context is the per-request scripting runtime. The zero value is not
// usable; construct with NewContext.
type Context struct {
	vm     *goja.Runtime
	logger *zap.Logger
}

// NewContext constructs a scripting runtime with a hardened global
// environment. Construction failure is reported as a StageEngineInit
// FilterError rather than aborting, so the caller may skip filtering
// and continue the conversion.
func NewContext(logger *zap.Logger) (*Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	vm := goja.New()
	if err := hardenRuntime(vm); err != nil {
		return nil, newEngineInitError(err)
	}

	return &Context{vm: vm, logger: logger}, nil
}

// hardenRuntime removes Node.js-flavoured globals so scripts cannot assume
// host capabilities the pipeline never provides.
func hardenRuntime(vm *goja.Runtime) error {
	hostGlobals := []string{
		"require",
		"module",
		"exports",
		"process",
		"global",
		"__dirname",
		"__filename",
		"Buffer",
		"setImmediate",
		"clearImmediate",
	}
	for _, name := range hostGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove global %s: %w", name, err)
		}
	}
	return nil
}

// Runtime exposes the underlying goja runtime. Intended for instrumentation
// and tests that assert the runtime is reused across evaluations.
func (c *Context) Runtime() *goja.Runtime {
	return c.vm
}

// run evaluates source as a top-level program in the context's global
// environment, classifying failures into the stage taxonomy.
func (c *Context) run(source string) error {
	if _, err := c.vm.RunString(source); err != nil {
		return classifyEvalError(err)
	}
	return nil
}

// callable looks up a global binding and asserts it is a function.
func (c *Context) callable(name string) (goja.Callable, bool) {
	return goja.AssertFunction(c.vm.Get(name))
}

// call invokes fn with the given arguments, converting thrown values and
// engine panics into ordinary errors so a bad node cannot take down the
// batch.
func (c *Context) call(fn goja.Callable, args ...interface{}) (v goja.Value, err error) {
	defer func() {
		if caught := recover(); caught != nil {
			err = fmt.Errorf("script call panicked: %v", caught)
		}
	}()

	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = c.vm.ToValue(a)
	}
	return fn(goja.Undefined(), values...)
}
