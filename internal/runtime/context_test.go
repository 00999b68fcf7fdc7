package runtime

import (
	"testing"

	"github.com/aretw0/orchestra/pkg/adapters/expression"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(processors ...ports.ExpressionProcessor) *executionContext {
	inst := &domain.StateExecutionInstance{
		ID:             "inst-1",
		RunID:          "run-1",
		StateMachineID: "sm-1",
		StateName:      "Deploy",
		StateExecutionMap: map[string]*domain.StateExecutionData{
			"Build Image": {StateName: "Build Image", Status: domain.StatusSuccess, Data: map[string]any{"tag": "v1"}},
			"Deploy":      {StateName: "Deploy", Status: domain.StatusRunning, Data: map[string]any{"replicas": 3}},
		},
		ContextElements: []domain.ContextElement{
			{Type: domain.ElementHost, Name: "inner", Params: map[string]any{"ip": "10.0.0.2"}},
			{Type: domain.ElementService, Name: "api"},
			{Type: domain.ElementHost, Name: "outer", Params: map[string]any{"ip": "10.0.0.1"}},
		},
		StateParams: map[string]any{"attempt": 2},
	}
	return newExecutionContext(&domain.StateMachine{ID: "sm-1"}, inst, expression.NewEvaluator(), processors)
}

func TestNormalizeStateName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Deploy", "Deploy"},
		{"Build Image", "Build_Image"},
		{"step-2", "step_2"},
		{"2nd step", "_2nd_step"},
		{"already_ok", "already_ok"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeStateName(tt.in), tt.in)
	}
}

func TestNormalize(t *testing.T) {
	ec := newTestContext(expression.NewAliasProcessor(map[string]string{"svc": "service"}))
	env := ec.prepareContext(map[string]any{"extra": 1})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"context key is kept", "${host.ip}", "${host.ip}"},
		{"state key is kept", "${Deploy.replicas}", "${Deploy.replicas}"},
		{"state name with spaces", "${Build Image.tag}", "${Build_Image.tag}"},
		{"processor alias", "${svc.name}", "${service.name}"},
		{"unknown scoped to current state", "${replicas}", "${Deploy.replicas}"},
		{"literal", "${true}", "${true}"},
		{"function call", "${len(host.ip)}", "${len(host.ip)}"},
		{"extra value", "${extra}", "${extra}"},
		{"text around tokens", "ip=${host.ip} n=${replicas}", "ip=${host.ip} n=${Deploy.replicas}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ec.normalize(tt.in, env))
		})
	}
}

func TestPrepareContext(t *testing.T) {
	ec := newTestContext()
	env := ec.prepareContext(nil)

	host, ok := env["host"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "inner", host["name"], "inner elements shadow outer ones")
	assert.Equal(t, "10.0.0.2", host["ip"])

	build, ok := env["Build_Image"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v1", build["tag"])
	assert.Equal(t, "Build Image", build["stateName"])

	wf, ok := env["workflow"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", wf["runId"])
	assert.Equal(t, "Deploy", wf["stateName"])
}

func TestExecutionContext_Expressions(t *testing.T) {
	ec := newTestContext()

	out, err := ec.RenderExpression("deploying ${replicas} replicas of ${Build Image.tag} to ${host.ip}")
	require.NoError(t, err)
	assert.Equal(t, "deploying 3 replicas of v1 to 10.0.0.2", out)

	v, err := ec.EvaluateExpression("${Deploy.replicas} > 2")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = ec.EvaluateExpressionWith("${limit} * 2", map[string]any{"limit": 4})
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestExecutionContext_Elements(t *testing.T) {
	ec := newTestContext()
	ec.PushContextElement(domain.ContextElement{Type: domain.ElementHost, Name: "pushed"})

	host, ok := ec.ContextElement(domain.ElementHost)
	require.True(t, ok)
	assert.Equal(t, "pushed", host.Name)
	assert.Len(t, ec.ContextElements(), 4)
	assert.Len(t, ec.PushedElements(), 1)
	assert.Len(t, ec.Instance().ContextElements, 3, "pushes reach the instance only through the executor")

	_, ok = ec.ContextElement(domain.ElementInfra)
	assert.False(t, ok)

	attempt, ok := ec.Param("attempt")
	require.True(t, ok)
	assert.Equal(t, 2, attempt)
}
