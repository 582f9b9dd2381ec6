package saga

import (
	"context"
	"fmt"

	"github.com/aleksih/kesto/pkg/api"
)

// WorkflowStep wraps an orchestrator as a single workflow step, so a saga
// can run inline in an engine-driven workflow. On success the saga's final
// value lands in the variables under "saga:"+name; on failure the step fails
// the run with an error that classifies how the rollback went.
func WorkflowStep(name string, orch *Orchestrator) api.StepDefinition {
	return api.StepDefinition{
		Name: name,
		Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
			sc := NewContext(name, ec)
			result := orch.Execute(ctx, sc)

			switch result.Outcome {
			case OutcomeCompleted:
				ec.SetVariable("saga:"+name, result.Value)
				return api.Continue(), nil

			case OutcomeCompensated:
				return api.Fail(api.WrapError(api.KindStepExecution, result.Err,
					"saga %q failed and was compensated (%d steps rolled back)",
					name, len(result.CompensatedSteps))), nil

			case OutcomeCompensationFailed:
				return api.Fail(&api.Error{
					Kind: api.KindCompensation,
					Msg: fmt.Sprintf("saga %q failed (%v) and compensation also failed at %q",
						name, result.Err, result.FailedAtStep),
					Err:              result.CompensationErr,
					FailedAtStep:     result.FailedAtStep,
					CompensatedSteps: result.CompensatedSteps,
				}), nil

			default:
				return api.Fail(api.NewError(api.KindStepExecution,
					"saga %q reported unknown outcome %q", name, result.Outcome)), nil
			}
		},
	}
}
