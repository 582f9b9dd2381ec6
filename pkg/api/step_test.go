package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuspendReason_Condition(t *testing.T) {
	until := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		reason SuspendReason
		want   ResumeCondition
	}{
		{"user pause", UserPause(), ResumeCondition{Kind: ConditionNone}},
		{"sleep", Sleep(until), ResumeCondition{Kind: ConditionTime, Until: until}},
		{"event", WaitingForEvent("payment-settled"), ResumeCondition{Kind: ConditionEvent, Event: "payment-settled"}},
		{"approval", WaitingForApproval(), ResumeCondition{Kind: ConditionEvent, Event: ApprovalEvent}},
		{"external", ExternalDependency("warehouse"), ResumeCondition{Kind: ConditionEvent, Event: "warehouse"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.reason.Condition())
		})
	}
}

func TestResumeCondition_SatisfiedTime(t *testing.T) {
	until := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cond := Sleep(until).Condition()

	err := cond.Satisfied(nil, until.Add(-time.Second))
	require.Error(t, err)
	assert.True(t, IsPreconditionNotMet(err))

	assert.NoError(t, cond.Satisfied(nil, until))
	assert.NoError(t, cond.Satisfied(nil, until.Add(time.Hour)))
}

func TestResumeCondition_SatisfiedEvent(t *testing.T) {
	cond := WaitingForEvent("shipment-arrived").Condition()
	now := time.Now()

	require.Error(t, cond.Satisfied(nil, now))
	require.Error(t, cond.Satisfied(&ResumePayload{Event: "other"}, now))

	err := cond.Satisfied(&ResumePayload{Event: "other"}, now)
	assert.True(t, IsPreconditionNotMet(err))

	assert.NoError(t, cond.Satisfied(&ResumePayload{Event: "shipment-arrived", Data: 7}, now))
}

func TestResumeCondition_SatisfiedNone(t *testing.T) {
	cond := UserPause().Condition()
	assert.NoError(t, cond.Satisfied(nil, time.Now()))
}

func TestExecutionContext_SuspendInvariant(t *testing.T) {
	ec := NewExecutionContext("run-1", "demo", nil, 10)
	require.Equal(t, StatusRunning, ec.Status)
	require.Nil(t, ec.SuspendReason)

	ec.MarkSuspended(WaitingForApproval(), "snap-1")
	assert.Equal(t, StatusSuspended, ec.Status)
	require.NotNil(t, ec.SuspendReason)
	assert.Equal(t, SuspendWaitingForApproval, ec.SuspendReason.Kind)
	assert.Equal(t, "snap-1", ec.SnapshotID)

	ec.MarkResumed()
	assert.Equal(t, StatusRunning, ec.Status)
	assert.Nil(t, ec.SuspendReason)
	assert.Empty(t, ec.SnapshotID)
}

func TestExecutionContext_CanContinue(t *testing.T) {
	ec := NewExecutionContext("run-1", "demo", nil, 2)
	assert.True(t, ec.CanContinue())

	ec.StepIndex = 2
	assert.False(t, ec.CanContinue())

	ec.StepIndex = 1
	ec.Status = StatusCompleted
	assert.False(t, ec.CanContinue())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusSuspended.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
