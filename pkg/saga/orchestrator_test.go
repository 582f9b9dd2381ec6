package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksih/kesto/pkg/api"
)

func okStep(id string, value any, log *[]string) *Step {
	return NewStep(id, id,
		func(ctx context.Context, ec *api.ExecutionContext) (any, error) {
			*log = append(*log, "action:"+id)
			return value, nil
		},
		func(ctx context.Context, ec *api.ExecutionContext, result any) error {
			*log = append(*log, "undo:"+id)
			return nil
		},
	)
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	var log []string
	orch := NewOrchestrator("order").
		AddStep(okStep("reserve", "res-1", &log)).
		AddStep(okStep("charge", "chg-1", &log)).
		AddStep(okStep("ship", "shp-1", &log))

	sc := NewContext("order", nil)
	result := orch.Execute(context.Background(), sc)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, "shp-1", result.Value, "the last forward result is the saga's value")
	assert.NoError(t, result.Err)
	assert.Empty(t, result.CompensatedSteps)

	assert.Equal(t, []string{"action:reserve", "action:charge", "action:ship"}, log)
	for _, id := range []string{"reserve", "charge", "ship"} {
		assert.Equal(t, StateCompleted, sc.State(id))
	}
	assert.False(t, sc.EndedAt.IsZero())
}

func TestExecute_RecordsResultsPerStep(t *testing.T) {
	var log []string
	orch := NewOrchestrator("order").
		AddStep(okStep("reserve", map[string]any{"reservation": "res-9"}, &log)).
		AddStep(okStep("charge", map[string]any{"charge": "chg-9"}, &log))

	sc := NewContext("order", nil)
	result := orch.Execute(context.Background(), sc)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	require.Len(t, sc.Executed, 2)
	assert.Equal(t, "reserve", sc.Executed[0].StepID)
	assert.Equal(t, map[string]any{"reservation": "res-9"}, sc.Results["reserve"])
}

func TestExecute_SharesWorkflowVariables(t *testing.T) {
	ec := api.NewExecutionContext("run-1", "order", map[string]any{"customer": "c-1"}, 10)

	orch := NewOrchestrator("order").AddStep(NewStep("reserve", "reserve",
		func(ctx context.Context, ec *api.ExecutionContext) (any, error) {
			customer, _ := ec.Variable("customer")
			ec.SetVariable("reservation", "res-for-"+customer.(string))
			return "ok", nil
		}, nil))

	sc := NewContext("order", ec)
	result := orch.Execute(context.Background(), sc)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	v, _ := ec.Variable("reservation")
	assert.Equal(t, "res-for-c-1", v)
}

func TestExecute_EmptySagaCompletes(t *testing.T) {
	sc := NewContext("empty", nil)
	result := NewOrchestrator("empty").Execute(context.Background(), sc)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Nil(t, result.Value)
}

func TestContext_StateDefaultsToPending(t *testing.T) {
	sc := NewContext("s", nil)
	assert.Equal(t, StatePending, sc.State("never-ran"))
	assert.False(t, sc.Completed("never-ran"))
}
