package scriptfilter

import (
	"sort"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/proxy"
)

// FilterFunctionName is the global binding a filter script must define.
const FilterFunctionName = "filter"

// CompareFunctionName is the global binding a sort script must define.
const CompareFunctionName = "compare"

// ApplyFilter runs source as a top-level program, looks up the global
// filter function and calls it once per node with the node's script value.
// A node is retained iff the call returns true.
//
// Stage failures (the script throws, fails to evaluate, or defines no
// filter function) abort the operation and leave nodes untouched.
// Per-node call failures never abort: the failing node is dropped, the
// failure is logged, and the operation still reports success. Surviving
// nodes keep their original relative order.
func (c *Context) ApplyFilter(nodes *proxy.NodeList, source string) error {
	if err := c.run(source); err != nil {
		c.logEvalFailure(err)
		return err
	}

	fn, ok := c.callable(FilterFunctionName)
	if !ok {
		err := newMissingFunctionError(FilterFunctionName)
		c.logger.Error("Filter script defines no filter function")
		return err
	}

	kept := (*nodes)[:0]
	dropped := 0
	for i := range *nodes {
		node := &(*nodes)[i]

		result, err := c.call(fn, node.ScriptValue())
		if err != nil {
			// Fail closed: a node the script cannot judge is excluded.
			c.logger.Error("Filter call failed, dropping node",
				zap.String("node", node.String()),
				zap.Error(err))
			dropped++
			continue
		}

		keep, ok := result.Export().(bool)
		if !ok {
			c.logger.Error("Filter returned a non-boolean, dropping node",
				zap.String("node", node.String()),
				zap.String("result", result.String()))
			dropped++
			continue
		}

		if keep {
			kept = append(kept, *node)
		} else {
			dropped++
		}
	}
	*nodes = kept

	c.logger.Info("Filter script applied",
		zap.Int("kept", len(kept)),
		zap.Int("dropped", dropped))
	return nil
}

// ApplySort runs source as a top-level program, looks up the global compare
// function and stable-sorts nodes by it. compare receives two node values
// and returns true when the first should order before the second. A failing
// or non-boolean comparison is treated as "not less" and logged; the
// operation itself still succeeds.
func (c *Context) ApplySort(nodes *proxy.NodeList, source string) error {
	if err := c.run(source); err != nil {
		c.logEvalFailure(err)
		return err
	}

	fn, ok := c.callable(CompareFunctionName)
	if !ok {
		err := newMissingFunctionError(CompareFunctionName)
		c.logger.Error("Sort script defines no compare function")
		return err
	}

	list := *nodes
	sort.SliceStable(list, func(i, j int) bool {
		result, err := c.call(fn, list[i].ScriptValue(), list[j].ScriptValue())
		if err != nil {
			c.logger.Error("Compare call failed",
				zap.String("left", list[i].String()),
				zap.String("right", list[j].String()),
				zap.Error(err))
			return false
		}
		less, ok := result.Export().(bool)
		if !ok {
			return false
		}
		return less
	})

	c.logger.Info("Sort script applied", zap.Int("nodes", len(list)))
	return nil
}

func (c *Context) logEvalFailure(err error) {
	fe, ok := err.(*FilterError)
	if !ok {
		c.logger.Error("Script evaluation failed", zap.Error(err))
		return
	}
	switch fe.Stage {
	case StageScriptException:
		c.logger.Error("Script eval threw an exception", zap.String("exception", fe.Message))
	default:
		c.logger.Error("Script eval failed", zap.String("error", fe.Message))
	}
}
