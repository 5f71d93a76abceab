package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// evalCEL compiles and runs expr against ctx, exposed as a `context` map
// variable. Grounded on the teacher's pkg/governance/policy_engine.go CEL
// environment setup, narrowed to this spec's single context object and
// fail-closed error handling: any compile or evaluation error, or a
// non-bool result, is treated as false, never as true.
func evalCEL(expr string, ctx Context) (bool, error) {
	env, err := cel.NewEnv(cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return false, fmt.Errorf("policy: creating CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("policy: compiling custom_rule: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("policy: building custom_rule program: %w", err)
	}

	effects := make([]map[string]any, 0, len(ctx.Effects))
	for _, e := range ctx.Effects {
		effects = append(effects, map[string]any{"type": e.Type, "target": e.Target, "mutates": e.Mutates})
	}

	out, _, err := program.Eval(map[string]any{
		"context": map[string]any{
			"spell_id":         ctx.SpellID,
			"publisher":        ctx.Publisher,
			"risk":             ctx.Risk,
			"execution":        ctx.Execution,
			"effects":          effects,
			"signature_status": ctx.SignatureStatus,
		},
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluating custom_rule: %w", err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: custom_rule did not evaluate to a bool")
	}
	return b, nil
}
