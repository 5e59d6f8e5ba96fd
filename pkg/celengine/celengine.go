package celengine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultEvidenceRule requires every configured evidence type to be supplied.
const DefaultEvidenceRule = "required.all(t, t in supplied)"

// EvidenceRule is a compiled boolean CEL expression over two variables:
// `required`, the evidence types an opportunity asks for, and `supplied`,
// the types present in a submission.
type EvidenceRule struct {
	expr string
	prg  cel.Program
}

func NewEvidenceRule(expr string) (*EvidenceRule, error) {
	if expr == "" {
		expr = DefaultEvidenceRule
	}

	env, err := cel.NewEnv(
		cel.Variable("required", cel.ListType(cel.StringType)),
		cel.Variable("supplied", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile evidence rule: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("evidence rule must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	return &EvidenceRule{expr: expr, prg: prg}, nil
}

func (r *EvidenceRule) String() string {
	return r.expr
}

// Satisfied evaluates the rule for one submission.
func (r *EvidenceRule) Satisfied(required, supplied []string) (bool, error) {
	if required == nil {
		required = []string{}
	}
	if supplied == nil {
		supplied = []string{}
	}

	out, _, err := r.prg.Eval(map[string]any{
		"required": required,
		"supplied": supplied,
	})
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}
