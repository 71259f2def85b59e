// Package eval compiles restricted boolean rules over decision node attributes.
package eval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is the prototype environment every rule is type-checked against.
func Env() map[string]any {
	return map[string]any{
		"id":          "",
		"layer":       "",
		"kind":        "",
		"title":       "",
		"priority":    "",
		"actor":       "",
		"confidence":  0.0,
		"automated":   false,
		"duration_ms": 0,
		"root":        false,
	}
}

type Compiled struct {
	Source  string
	program *vm.Program
}

// Compile validates and type-checks cond. An empty cond always matches.
func Compile(cond string) (*Compiled, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return &Compiled{}, nil
	}
	if err := Validate(cond); err != nil {
		return nil, err
	}

	program, err := expr.Compile(cond, expr.Env(Env()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid rule %q: %w", cond, err)
	}
	return &Compiled{Source: cond, program: program}, nil
}

func (c *Compiled) Eval(vars map[string]any) (bool, error) {
	if c == nil || c.program == nil {
		return true, nil
	}
	out, err := expr.Run(c.program, vars)
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("rule must evaluate to bool (got %T)", out)
	}
	return b, nil
}

// Eval compiles and runs cond in one step.
func Eval(cond string, vars map[string]any) (bool, error) {
	c, err := Compile(cond)
	if err != nil {
		return false, err
	}
	return c.Eval(vars)
}
