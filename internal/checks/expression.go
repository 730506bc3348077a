package checks

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/ledgerline/peregrine/internal/domain"
)

// ExpressionCheck wraps an operator-defined CEL rule as a Check. The
// program is compiled once at construction; Run only evaluates.
type ExpressionCheck struct {
	rule    domain.ExpressionRule
	program cel.Program
}

// NewExpressionEnv creates the CEL environment shared by all expression
// rules. Expressions see the transaction fields plus velocity and device
// maps, e.g. "amount > 5000.0 && velocity.count1h >= 3".
func NewExpressionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("device_key", cel.StringType),
		cel.Variable("ip_address", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("velocity", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("device", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileExpression compiles a rule against the shared environment. The
// expression must produce a bool.
func CompileExpression(env *cel.Env, rule domain.ExpressionRule) (*ExpressionCheck, error) {
	if rule.Expression == "" {
		return nil, fmt.Errorf("%w: rule %q has an empty expression", domain.ErrInvalidInput, rule.Name)
	}

	ast, issues := env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %q: %v", domain.ErrInvalidInput, rule.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %q must evaluate to a bool, got %s", domain.ErrInvalidInput, rule.Name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for rule %q: %w", rule.Name, err)
	}

	return &ExpressionCheck{rule: rule, program: program}, nil
}

// CompileEnabled compiles every enabled rule, skipping and reporting the
// ones that fail to compile so one bad rule does not take down the set.
func CompileEnabled(env *cel.Env, rules []*domain.ExpressionRule) ([]Check, []error) {
	var checks []Check
	var errs []error
	for _, rule := range rules {
		if rule == nil || !rule.Enabled {
			continue
		}
		check, err := CompileExpression(env, *rule)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		checks = append(checks, check)
	}
	return checks, errs
}

func (c *ExpressionCheck) Name() string { return c.rule.Name }

func (c *ExpressionCheck) Run(ctx context.Context, ec *domain.RiskEvaluationContext, aux *AuxData) (*domain.RiskFactor, error) {
	out, _, err := c.program.Eval(activation(ec, aux))
	if err != nil {
		return nil, fmt.Errorf("rule %q evaluation failed: %w", c.rule.Name, err)
	}

	triggered, ok := out.(types.Bool)
	if !ok {
		return nil, fmt.Errorf("rule %q produced a non-bool result", c.rule.Name)
	}
	if !bool(triggered) {
		return nil, nil
	}

	reason := c.rule.Reason
	if reason == "" {
		reason = c.rule.Description
	}

	return &domain.RiskFactor{
		Rule:   c.rule.Name,
		Score:  c.rule.Score,
		Reason: reason,
		Metadata: map[string]any{
			"ruleId":     c.rule.ID,
			"expression": c.rule.Expression,
		},
	}, nil
}

func activation(ec *domain.RiskEvaluationContext, aux *AuxData) map[string]any {
	metadata := ec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	velocity := map[string]any{
		"count1h":      int64(0),
		"amount1h":     0.0,
		"count24h":     int64(0),
		"amount24h":    0.0,
		"avgAmount24h": 0.0,
	}
	if aux != nil && aux.Velocity != nil {
		velocity["count1h"] = aux.Velocity.Count1h
		velocity["amount1h"] = aux.Velocity.Amount1h
		velocity["count24h"] = aux.Velocity.Count24h
		velocity["amount24h"] = aux.Velocity.Amount24h
		velocity["avgAmount24h"] = aux.Velocity.AvgAmount24h
	}

	device := map[string]any{
		"known":      false,
		"trustScore": int64(0),
		"trustLevel": "",
	}
	if aux != nil && aux.Device != nil {
		device["known"] = true
		device["trustScore"] = int64(aux.Device.TrustScore)
		device["trustLevel"] = string(aux.Device.TrustLevel)
	}

	return map[string]any{
		"amount":     ec.Amount,
		"currency":   ec.Currency,
		"user_id":    ec.UserID,
		"device_key": ec.DeviceKey,
		"ip_address": ec.IPAddress,
		"metadata":   metadata,
		"velocity":   velocity,
		"device":     device,
	}
}
