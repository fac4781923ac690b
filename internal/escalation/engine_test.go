package escalation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/model"
	"github.com/sofianedjerbi/rouse/internal/storage"
)

func testNow() time.Time {
	return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(zap.NewNop(), filepath.Join(t.TempDir(), "rouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(store *storage.Store) *Engine {
	return NewEngine(zap.NewNop(), store, store, store, store)
}

func twoStepPolicy(t *testing.T, scheduleID string, repeat int) *model.Policy {
	t.Helper()
	policy, err := model.NewPolicy("critical-path", []model.Step{
		{Targets: []model.Target{{Kind: model.TargetOnCall, ScheduleID: scheduleID}}, Channels: []string{"webhook"}},
		{Wait: 5 * time.Minute, Targets: []model.Target{{Kind: model.TargetOnCallNext, ScheduleID: scheduleID, Offset: 1}}, Channels: []string{"webhook"}},
	}, repeat)
	require.NoError(t, err)
	return policy
}

func TestRouteMaterializesCumulativeFireTimes(t *testing.T) {
	now := testNow()
	policy := twoStepPolicy(t, "sched-1", 1)

	instances, events := Route(policy, "alert-1", now)
	require.Len(t, instances, 4)
	require.Len(t, events, 4)

	// Step waits accumulate from now: step 0 is immediate, step 1 adds
	// 5m, and the repeat cycle's step 0 adds its own wait of zero.
	require.True(t, instances[0].FiresAt.Equal(now))
	require.True(t, instances[1].FiresAt.Equal(now.Add(5*time.Minute)))
	require.True(t, instances[2].FiresAt.Equal(now.Add(5*time.Minute)))
	require.True(t, instances[3].FiresAt.Equal(now.Add(10*time.Minute)))

	for i, inst := range instances {
		require.Equal(t, i, inst.StepOrder)
		require.Equal(t, model.StepStatusPending, inst.Status)
		require.Equal(t, "alert-1", inst.AlertID)
		require.Equal(t, model.EventEscalationStepScheduled, events[i].Type)
		require.Equal(t, i, events[i].StepOrder)
	}
}

func TestRouteFirstStepFiresImmediatelyDespiteWait(t *testing.T) {
	now := testNow()
	policy, err := model.NewPolicy("slow-start", []model.Step{
		{Wait: 10 * time.Minute, Targets: []model.Target{{Kind: model.TargetUser, UserID: "alice"}}, Channels: []string{"webhook"}},
	}, 1)
	require.NoError(t, err)

	instances, _ := Route(policy, "alert-1", now)
	require.Len(t, instances, 2)

	// The first page goes out at routing time even when the step declares
	// a wait; the wait only spaces out later instances.
	require.True(t, instances[0].FiresAt.Equal(now))
	require.True(t, instances[1].FiresAt.Equal(now.Add(10*time.Minute)))
}

func TestFireResolvesOnCallAtStepFireTime(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)
	ctx := context.Background()
	now := testNow()

	sched, err := model.NewSchedule("primary", "UTC",
		model.Rotation{Kind: model.RotationCustom, PeriodSeconds: 600},
		now, []string{"alice", "bob"})
	require.NoError(t, err)
	require.NoError(t, store.SaveSchedule(ctx, sched))

	policy := twoStepPolicy(t, sched.ID, 0)
	require.NoError(t, store.SavePolicy(ctx, policy))

	alert, _ := model.NewAlert(model.RawAlert{Source: "prometheus", Severity: "critical", Labels: map[string]string{"service": "api"}, Summary: "api down"}, now)
	alert.PolicyID = policy.ID
	require.NoError(t, store.SaveAlert(ctx, alert))

	// Step 0 fires inside alice's first 10-minute turn.
	inst := model.NewStepInstance(alert.ID, policy.ID, 0, now.Add(time.Minute), now)
	result, err := engine.Fire(ctx, inst)
	require.NoError(t, err)
	require.False(t, result.Cancelled)
	require.Len(t, result.Notifications, 1)
	require.Equal(t, "webhook", result.Notifications[0].Channel)
	require.Equal(t, "alice", result.Notifications[0].Target)
	require.Equal(t, model.EventEscalationStepFired, result.Events[0].Type)

	// Step 1 fires during bob's turn, but targets the next participant in
	// rotation, which wraps back to alice.
	inst = model.NewStepInstance(alert.ID, policy.ID, 1, now.Add(11*time.Minute), now)
	result, err = engine.Fire(ctx, inst)
	require.NoError(t, err)
	require.Len(t, result.Notifications, 1)
	require.Equal(t, "alice", result.Notifications[0].Target)
}

func TestFireCancelsWhenAlertNotFiring(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)
	ctx := context.Background()
	now := testNow()

	policy := twoStepPolicy(t, "sched-1", 0)
	require.NoError(t, store.SavePolicy(ctx, policy))

	alert, _ := model.NewAlert(model.RawAlert{Source: "prometheus", Labels: map[string]string{"a": "1"}}, now)
	_, err := alert.Acknowledge("alice", now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.SaveAlert(ctx, alert))

	inst := model.NewStepInstance(alert.ID, policy.ID, 1, now.Add(5*time.Minute), now)
	result, err := engine.Fire(ctx, inst)
	require.NoError(t, err)
	require.True(t, result.Cancelled)
	require.Empty(t, result.Notifications)
	require.Equal(t, model.EventEscalationStepCancelled, result.Events[0].Type)
}

func TestFireCancelsWhenAlertMissing(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)

	inst := model.NewStepInstance("ghost", "policy-1", 0, testNow(), testNow())
	result, err := engine.Fire(context.Background(), inst)
	require.NoError(t, err)
	require.True(t, result.Cancelled)
}

func TestFireTeamTargetFansOutAndDeduplicates(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)
	ctx := context.Background()
	now := testNow()

	team, err := model.NewTeam("platform", []string{"alice", "bob", "alice"})
	require.NoError(t, err)
	require.NoError(t, store.SaveTeam(ctx, team))

	policy, err := model.NewPolicy("team-page", []model.Step{
		{Targets: []model.Target{
			{Kind: model.TargetTeam, TeamID: team.ID},
			{Kind: model.TargetUser, UserID: "bob"},
		}, Channels: []string{"webhook", "slack"}},
	}, 0)
	require.NoError(t, err)
	require.NoError(t, store.SavePolicy(ctx, policy))

	alert, _ := model.NewAlert(model.RawAlert{Source: "grafana", Labels: map[string]string{"a": "1"}}, now)
	require.NoError(t, store.SaveAlert(ctx, alert))

	inst := model.NewStepInstance(alert.ID, policy.ID, 0, now, now)
	result, err := engine.Fire(ctx, inst)
	require.NoError(t, err)

	// Two distinct recipients times two channels.
	require.Len(t, result.Notifications, 4)
}

func TestFireUsesStoredContactForChannel(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)
	ctx := context.Background()
	now := testNow()

	user := model.NewUser("alice", "alice@example.com", model.RoleUser)
	user.SlackID = "U123ALICE"
	require.NoError(t, store.SaveUser(ctx, user))

	policy, err := model.NewPolicy("slack-page", []model.Step{
		{Targets: []model.Target{{Kind: model.TargetUser, UserID: user.ID}}, Channels: []string{"slack", "email"}},
	}, 0)
	require.NoError(t, err)
	require.NoError(t, store.SavePolicy(ctx, policy))

	alert, _ := model.NewAlert(model.RawAlert{Source: "grafana", Labels: map[string]string{"a": "1"}}, now)
	require.NoError(t, store.SaveAlert(ctx, alert))

	inst := model.NewStepInstance(alert.ID, policy.ID, 0, now, now)
	result, err := engine.Fire(ctx, inst)
	require.NoError(t, err)
	require.Len(t, result.Notifications, 2)

	targets := map[string]string{}
	for _, n := range result.Notifications {
		targets[n.Channel] = n.Target
	}
	require.Equal(t, "U123ALICE", targets["slack"])
	require.Equal(t, "alice@example.com", targets["email"])
}

func TestFireEmitsExhaustedOnLastInstance(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)
	ctx := context.Background()
	now := testNow()

	policy, err := model.NewPolicy("single", []model.Step{
		{Targets: []model.Target{{Kind: model.TargetUser, UserID: "alice"}}, Channels: []string{"webhook"}},
	}, 1)
	require.NoError(t, err)
	require.NoError(t, store.SavePolicy(ctx, policy))

	alert, _ := model.NewAlert(model.RawAlert{Source: "grafana", Labels: map[string]string{"a": "1"}}, now)
	require.NoError(t, store.SaveAlert(ctx, alert))

	first := model.NewStepInstance(alert.ID, policy.ID, 0, now, now)
	result, err := engine.Fire(ctx, first)
	require.NoError(t, err)
	for _, ev := range result.Events {
		require.NotEqual(t, model.EventEscalationExhausted, ev.Type)
	}

	last := model.NewStepInstance(alert.ID, policy.ID, 1, now.Add(time.Minute), now)
	result, err = engine.Fire(ctx, last)
	require.NoError(t, err)
	require.Equal(t, model.EventEscalationExhausted, result.Events[len(result.Events)-1].Type)
}
