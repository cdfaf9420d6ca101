// Package policy evaluates Rego rules against permission requests so that
// clear-cut decisions never reach a consumer.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReject Decision = "reject"
	DecisionAsk    Decision = "ask"
)

// Engine is a prepared Rego query over permission requests.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given policy module. The module must live in
// package relay.permission and define a "decision" rule.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.relay.permission.decision"),
		rego.Module("relay_permission.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate returns the policy decision for a permission request.
// Evaluation failures and unrecognized results fail open to ask, so a
// broken policy degrades to consumer prompts rather than silent allows.
func (e *Engine) Evaluate(ctx context.Context, perm *protocol.Permission) Decision {
	input := map[string]any{
		"type":       perm.Type,
		"pattern":    perm.Pattern,
		"title":      perm.Title,
		"session_id": perm.SessionID,
		"metadata":   perm.Metadata,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil || len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAsk
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		switch Decision(s) {
		case DecisionAllow, DecisionReject, DecisionAsk:
			return Decision(s)
		}
	}
	return DecisionAsk
}

// DefaultPolicy asks the consumer for everything except obviously
// destructive shell patterns.
const DefaultPolicy = `
package relay.permission

default decision = "ask"

decision = "reject" {
	input.type == "bash"
	contains(input.pattern, "rm -rf /")
}
`
