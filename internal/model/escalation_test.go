package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeStep(wait time.Duration) Step {
	return Step{
		Wait:     wait,
		Targets:  []Target{{Kind: TargetUser, UserID: "user-1"}},
		Channels: []string{"webhook"},
	}
}

func TestNewPolicy_RequiresStep(t *testing.T) {
	_, err := NewPolicy("empty", nil, 0)
	require.ErrorIs(t, err, ErrPolicyRequiresStep)
}

func TestNewPolicy_StepRequiresTarget(t *testing.T) {
	step := Step{Channels: []string{"webhook"}}
	_, err := NewPolicy("p", []Step{step}, 0)
	require.ErrorIs(t, err, ErrStepRequiresTarget)
}

func TestNewPolicy_StepRequiresChannel(t *testing.T) {
	step := Step{Targets: []Target{{Kind: TargetUser, UserID: "user-1"}}}
	_, err := NewPolicy("p", []Step{step}, 0)
	require.ErrorIs(t, err, ErrStepRequiresChannel)
}

func TestPolicy_AddStep(t *testing.T) {
	policy, err := NewPolicy("p", []Step{makeStep(0)}, 0)
	require.NoError(t, err)

	require.NoError(t, policy.AddStep(makeStep(10*time.Minute)))
	require.Len(t, policy.Steps, 2)

	require.ErrorIs(t, policy.AddStep(Step{Channels: []string{"webhook"}}), ErrStepRequiresTarget)
	require.ErrorIs(t, policy.AddStep(Step{Targets: []Target{{Kind: TargetUser, UserID: "u"}}}), ErrStepRequiresChannel)
}

func TestPolicy_StepAtWrapsAcrossRepeats(t *testing.T) {
	s0 := makeStep(0)
	s1 := makeStep(5 * time.Minute)
	policy, err := NewPolicy("p", []Step{s0, s1}, 1)
	require.NoError(t, err)

	require.Equal(t, 4, policy.TotalInstances())
	require.Equal(t, s0.Wait, policy.StepAt(0).Wait)
	require.Equal(t, s1.Wait, policy.StepAt(1).Wait)
	require.Equal(t, s0.Wait, policy.StepAt(2).Wait)
	require.Equal(t, s1.Wait, policy.StepAt(3).Wait)
}

func TestNewStepInstance(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	inst := NewStepInstance("alert-1", "policy-1", 2, now.Add(10*time.Minute), now)

	require.Equal(t, StepStatusPending, inst.Status)
	require.Equal(t, 2, inst.StepOrder)
	require.Equal(t, now.Add(10*time.Minute), inst.FiresAt)
	require.NotEmpty(t, inst.ID)
}
