// Package filter evaluates a user-supplied predicate over captured data
// events, so the consumer only sees traffic it asked for.
package filter

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/zxd1994/ecapture/internal/event"
)

// Filter holds a pre-compiled predicate expression.
type Filter struct {
	src  string
	prog *vm.Program
	log  *zap.Logger
}

// exprEnv declares the identifiers available to predicates, for compile-time
// type checking.
func exprEnv() map[string]interface{} {
	return map[string]interface{}{
		"comm":      "",
		"pid":       0,
		"tid":       0,
		"fd":        0,
		"len":       0,
		"direction": "",
	}
}

// Compile builds a filter from an expression like
// `comm == "curl" && direction == "write"`.
func Compile(src string, log *zap.Logger) (*Filter, error) {
	prog, err := expr.Compile(src, expr.Env(exprEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling event filter %q: %w", src, err)
	}
	return &Filter{src: src, prog: prog, log: log}, nil
}

// Match reports whether the event passes the predicate. A nil filter matches
// everything. Evaluation errors keep the event: dropping telemetry over a
// bad expression would hide exactly what the operator is looking for.
func (f *Filter) Match(ev *event.DataEvent) bool {
	if f == nil {
		return true
	}

	env := map[string]interface{}{
		"comm":      ev.CommString(),
		"pid":       int(ev.PID),
		"tid":       int(ev.TID),
		"fd":        int(ev.FD),
		"len":       int(ev.DataLen),
		"direction": ev.Type.String(),
	}

	out, err := expr.Run(f.prog, env)
	if err != nil {
		f.log.Warn("event filter evaluation failed", zap.String("filter", f.src), zap.Error(err))
		return true
	}
	keep, ok := out.(bool)
	if !ok {
		return true
	}
	return keep
}
