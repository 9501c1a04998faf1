package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// guardProgram is a compiled guard expression bound to one tool.
type guardProgram struct {
	tool    string
	message string
	program cel.Program
}

// compileGuards compiles every guard expression once at engine construction.
// A guard that fails to compile is a configuration error, not a runtime one.
func compileGuards(guards []Guard) (map[string][]guardProgram, error) {
	if len(guards) == 0 {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("mode", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	compiled := make(map[string][]guardProgram, len(guards))
	for _, g := range guards {
		ast, issues := env.Compile(g.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("guard for %s: compile error: %w", g.Tool, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("guard for %s: expression must return bool, got %v", g.Tool, ast.OutputType())
		}

		prg, err := env.Program(ast, cel.EvalOptions(cel.OptOptimize))
		if err != nil {
			return nil, fmt.Errorf("guard for %s: program error: %w", g.Tool, err)
		}
		compiled[g.Tool] = append(compiled[g.Tool], guardProgram{
			tool:    g.Tool,
			message: g.Message,
			program: prg,
		})
	}
	return compiled, nil
}

// eval runs the guard against one call. Evaluation errors fail closed: an
// expression that cannot be evaluated blocks the call.
func (g *guardProgram) eval(tool, mode string, args map[string]any) (bool, error) {
	if args == nil {
		args = map[string]any{}
	}
	out, _, err := g.program.Eval(map[string]any{
		"tool": tool,
		"mode": mode,
		"args": args,
	})
	if err != nil {
		return false, fmt.Errorf("guard for %s: eval error: %w", g.tool, err)
	}
	return boolValue(out), nil
}

func boolValue(v ref.Val) bool {
	b, ok := v.(types.Bool)
	return ok && bool(b)
}
