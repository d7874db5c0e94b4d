// Copyright © 2024 The ELPS authors

package lens

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expr compiles a boolean expression over a snapshot into a Predicate.
// The expression sees:
//
//	lenses       list of {command, title} maps in snapshot order
//	ids          list of command ids
//	hasLens(id)  whether any lens has the command id
//	lensCount()  number of lenses
//
// For example: hasLens("fixup.accept") && lensCount() == 2.
func Expr(src string) (Predicate, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv(nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile lens expression: %w", err)
	}
	return &exprPredicate{src: src, program: program}, nil
}

type exprPredicate struct {
	src     string
	program *vm.Program
}

func (p *exprPredicate) Match(s Snapshot) (bool, error) {
	out, err := expr.Run(p.program, exprEnv(s))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.src, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (p *exprPredicate) String() string {
	return "expr " + p.src
}

func exprEnv(s Snapshot) map[string]any {
	lenses := make([]map[string]any, len(s))
	for i, l := range s {
		lenses[i] = map[string]any{
			"command": CommandID(l),
			"title":   Title(l),
		}
	}
	return map[string]any{
		"lenses":    lenses,
		"ids":       s.IDs(),
		"hasLens":   func(id string) bool { return s.Has(id) },
		"lensCount": func() int { return len(s) },
	}
}
