package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"netbrain/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compileFilter(expression)
	return err
}

// Filter is a compiled boolean expression over a message envelope.
type Filter struct {
	expression string
	program    cel.Program
	eval       *Evaluator
}

// CompileFilter checks expression once so it can be matched against many
// envelopes.
func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, err := e.compileFilter(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program, eval: e}, nil
}

func (e *Evaluator) compileFilter(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, msg models.MessageEnvelope) (bool, error) {
	filter, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return filter.Match(ctx, msg)
}

func (f *Filter) Expression() string {
	return f.expression
}

func (f *Filter) Match(ctx context.Context, msg models.MessageEnvelope) (bool, error) {
	vars := map[string]interface{}{
		"id":        msg.ID,
		"source":    msg.Source,
		"timestamp": msg.Timestamp,
		"payload":   msg.Payload,
		"metadata":  metadataToMap(msg.Metadata),
	}

	result, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func metadataToMap(metadata models.Metadata) map[string]interface{} {
	return map[string]interface{}{
		"kind":         metadata.Kind,
		"type":         metadata.Type,
		"cid":          metadata.CorrelationID,
		"target_stage": metadata.Stage,
		"trace_id":     metadata.TraceID,
	}
}
