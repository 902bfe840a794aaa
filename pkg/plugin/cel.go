package plugin

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/moduforge/moduforge-go/pkg/forgeerror"
)

// celPredicate is a compiled CEL boolean expression evaluated against a
// transaction's meta map, grounded on core/pkg/kernel/cel_dp.go's CEL
// compilation style (without the full CEL-DP determinism audit, which is a
// HELM-specific compliance concern out of scope for the runtime core).
type celPredicate struct {
	program cel.Program
}

func compileCELPredicate(expr string) (*celPredicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("meta", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, forgeerror.Schema("cel_env_init_failed", "", err.Error())
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("plugin filter_expr %q: compile failed: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("plugin filter_expr %q: must evaluate to bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("plugin filter_expr %q: program construction failed: %w", expr, err)
	}
	return &celPredicate{program: program}, nil
}

func (p *celPredicate) eval(meta map[string]interface{}) (bool, error) {
	out, _, err := p.program.Eval(map[string]interface{}{"meta": meta})
	if err != nil {
		return false, fmt.Errorf("plugin filter_expr evaluation failed: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("plugin filter_expr did not evaluate to bool")
	}
	return b, nil
}
