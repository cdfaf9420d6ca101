package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

func TestDefaultPolicyAsksByDefault(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	got := engine.Evaluate(ctx, &protocol.Permission{
		SessionID: "ses_1", Type: "bash", Pattern: "go test ./...",
	})
	assert.Equal(t, DecisionAsk, got)
}

func TestDefaultPolicyRejectsDestructiveBash(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	got := engine.Evaluate(ctx, &protocol.Permission{
		SessionID: "ses_1", Type: "bash", Pattern: "sudo rm -rf / --no-preserve-root",
	})
	assert.Equal(t, DecisionReject, got)
}

func TestCustomPolicyAllow(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package relay.permission

default decision = "ask"

decision = "allow" {
	input.type == "read"
}

decision = "allow" {
	input.type == "bash"
	startswith(input.pattern, "git status")
}
`)
	require.NoError(t, err)

	assert.Equal(t, DecisionAllow, engine.Evaluate(ctx, &protocol.Permission{Type: "read"}))
	assert.Equal(t, DecisionAllow, engine.Evaluate(ctx, &protocol.Permission{Type: "bash", Pattern: "git status --short"}))
	assert.Equal(t, DecisionAsk, engine.Evaluate(ctx, &protocol.Permission{Type: "bash", Pattern: "git push"}))
}

func TestUnrecognizedDecisionFailsOpenToAsk(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package relay.permission

decision = "shrug"
`)
	require.NoError(t, err)

	assert.Equal(t, DecisionAsk, engine.Evaluate(ctx, &protocol.Permission{Type: "bash"}))
}

func TestBrokenModuleFailsToCompile(t *testing.T) {
	_, err := NewEngine(context.Background(), `this is not rego`)
	require.Error(t, err)
}

func TestPolicyReadsMetadata(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package relay.permission

default decision = "ask"

decision = "reject" {
	input.metadata.dangerous == true
}
`)
	require.NoError(t, err)

	got := engine.Evaluate(ctx, &protocol.Permission{
		Type:     "edit",
		Metadata: map[string]any{"dangerous": true},
	})
	assert.Equal(t, DecisionReject, got)
}
