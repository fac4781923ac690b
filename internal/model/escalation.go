package model

import (
	"time"

	"github.com/google/uuid"
)

// TargetKind identifies the variant of an escalation target
type TargetKind string

const (
	// TargetUser pages a specific user
	TargetUser TargetKind = "user"
	// TargetOnCall pages whoever the schedule resolves to at fire time
	TargetOnCall TargetKind = "oncall"
	// TargetOnCallNext pages the participant N rotation turns ahead,
	// ignoring overrides
	TargetOnCallNext TargetKind = "oncall_next"
	// TargetTeam pages every member of a team
	TargetTeam TargetKind = "team"
)

// Target is a tagged escalation target. Exactly the fields relevant to
// Kind are set.
type Target struct {
	Kind       TargetKind `json:"kind"`
	UserID     string     `json:"user_id,omitempty"`
	ScheduleID string     `json:"schedule_id,omitempty"`
	Offset     int        `json:"offset,omitempty"`
	TeamID     string     `json:"team_id,omitempty"`
}

// Step is one rung of an escalation policy: wait, then notify the targets
// over the channels. Step 0 has Wait 0 by convention.
type Step struct {
	Wait     time.Duration `json:"wait"`
	Targets  []Target      `json:"targets"`
	Channels []string      `json:"channels"`
}

func (s Step) validate() error {
	if len(s.Targets) == 0 {
		return ErrStepRequiresTarget
	}
	if len(s.Channels) == 0 {
		return ErrStepRequiresChannel
	}
	return nil
}

// Policy is an ordered escalation sequence. Repeat is the number of
// additional full cycles through the steps after the last one.
type Policy struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Steps  []Step `json:"steps"`
	Repeat int    `json:"repeat"`
}

// NewPolicy creates a policy with at least one valid step.
func NewPolicy(name string, steps []Step, repeat int) (*Policy, error) {
	if len(steps) == 0 {
		return nil, ErrPolicyRequiresStep
	}
	for _, step := range steps {
		if err := step.validate(); err != nil {
			return nil, err
		}
	}
	return &Policy{
		ID:     uuid.New().String(),
		Name:   name,
		Steps:  steps,
		Repeat: repeat,
	}, nil
}

// AddStep appends a step to the policy.
func (p *Policy) AddStep(step Step) error {
	if err := step.validate(); err != nil {
		return err
	}
	p.Steps = append(p.Steps, step)
	return nil
}

// StepAt returns the step definition for a materialized instance order,
// which wraps across repeat cycles.
func (p *Policy) StepAt(order int) Step {
	return p.Steps[order%len(p.Steps)]
}

// TotalInstances is the number of step instances a routing pass creates.
func (p *Policy) TotalInstances() int {
	return len(p.Steps) * (1 + p.Repeat)
}

// StepStatus represents the queue status of a materialized step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusClaimed   StepStatus = "claimed"
	StepStatusFired     StepStatus = "fired"
	StepStatusCancelled StepStatus = "cancelled"
)

// StepInstance is a persisted escalation step with an absolute fire time.
// Instances are materialized eagerly when an alert is routed; the target
// is resolved lazily at fire time.
type StepInstance struct {
	ID        string     `json:"id"`
	AlertID   string     `json:"alert_id"`
	PolicyID  string     `json:"policy_id"`
	StepOrder int        `json:"step_order"`
	FiresAt   time.Time  `json:"fires_at"`
	Status    StepStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewStepInstance materializes one pending step.
func NewStepInstance(alertID, policyID string, order int, firesAt, now time.Time) *StepInstance {
	return &StepInstance{
		ID:        uuid.New().String(),
		AlertID:   alertID,
		PolicyID:  policyID,
		StepOrder: order,
		FiresAt:   firesAt,
		Status:    StepStatusPending,
		CreatedAt: now,
	}
}
