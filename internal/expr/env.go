package expr

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Environment builds and compiles CEL programs against webhook payloads so
// operators can express additional purge conditions declaratively.
type Environment struct {
	env *cel.Env
}

// NewWebhookEnvironment declares the CEL variables exposed to purge rule
// conditions. Entity references that may be absent from a payload live under
// refs and should be read through lookup so missing keys resolve to "".
func NewWebhookEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.StringType),
		cel.Variable("site", cel.StringType),
		cel.Variable("entity", cel.StringType),
		cel.Variable("refs", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("lookup",
			cel.Overload("lookup_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(lookupMapValue),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build webhook environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Compile parses and checks a condition expression, enforcing a boolean result
// so malformed rules fail at load time rather than during dispatch.
func (e *Environment) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", expression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expr: %q must evaluate to a boolean, got %s", expression, ast.OutputType())
	}
	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expr: program %q: %w", expression, err)
	}
	return prog, nil
}

// EvalBool runs a compiled condition against the supplied activation.
func EvalBool(prog cel.Program, activation map[string]any) (bool, error) {
	out, _, err := prog.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("expr: evaluate: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expr: non-boolean result %T", out.Value())
	}
	return result, nil
}

func lookupMapValue(lhs, rhs ref.Val) ref.Val {
	mapper, ok := lhs.(traits.Mapper)
	if !ok {
		return types.NewErr("lookup requires a map argument")
	}
	value, found := mapper.Find(rhs)
	if !found {
		return types.String("")
	}
	return value
}
