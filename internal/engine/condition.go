package engine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CEL variables available to rule conditions.
const (
	varFact     = "fact"     // map(string, dyn): attributes of the matched fact
	varFactType = "factType" // string: exact type name of the matched fact
)

// Protect CEL environment creation and compilation from concurrent access.
var celMutex sync.Mutex

// condition is a compiled rule condition. A nil program always matches.
type condition struct {
	source  string
	program cel.Program
}

// newConditionEnv creates the CEL environment shared by all conditions of
// one engine.
func newConditionEnv() (*cel.Env, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	env, err := cel.NewEnv(
		cel.Variable(varFact, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(varFactType, cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return env, nil
}

// compileCondition compiles a CEL expression that must produce a bool.
func compileCondition(env *cel.Env, source string) (condition, error) {
	if source == "" {
		return condition{}, nil
	}

	celMutex.Lock()
	defer celMutex.Unlock()

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return condition{}, fmt.Errorf("compile condition: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return condition{}, fmt.Errorf("condition must evaluate to bool, got %s", out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return condition{}, fmt.Errorf("create CEL program: %w", err)
	}
	return condition{source: source, program: program}, nil
}

// eval evaluates the condition against one fact's attributes.
//
// Evaluation errors (for example a missing attribute) and non-bool results
// are reported as a non-match together with the reason.
func (c condition) eval(typeName string, attrs map[string]any) (bool, error) {
	if c.program == nil {
		return true, nil
	}

	out, _, err := c.program.Eval(map[string]any{
		varFact:     attrs,
		varFactType: typeName,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, not bool", out.Value())
	}
	return b, nil
}
