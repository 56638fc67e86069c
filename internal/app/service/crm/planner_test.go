package crm

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/types"
)

func TestPlanForUserRerunInsertsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 0, t0.Add(-96*time.Hour))

	n, err := f.planner.PlanForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t,
		[]types.CrmTaskType{types.CrmTaskTypeReengage, types.CrmTaskTypeFreeExhausted},
		taskTypes(f.tasks(t, u.ID)))

	for i := 0; i < 3; i++ {
		f.now = f.now.Add(time.Minute)
		n, err = f.planner.PlanForUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Len(t, f.tasks(t, u.ID), 2)
}

func TestPlanDailyPromptForActiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 3, t0.Add(-time.Hour))

	n, err := f.planner.PlanForUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	task := f.tasks(t, u.ID)[0]
	assert.Equal(t, types.CrmTaskTypeDailyPrompt, task.Type)
	require.NotNil(t, task.DueAt)
	// 12:00 is past the 10:00 prompt hour, so the next one is tomorrow
	assert.True(t, task.DueAt.Equal(time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)), task.DueAt.String())
	assert.Equal(t, "2026-03-11", task.Payload["local_date"])
}

func TestPlanSubscriptionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := t0.Add(-100 * time.Hour)

	expiring := f.user(t, 3, t0.Add(-time.Hour))
	f.subscription(t, expiring.ID, t0.Add(12*time.Hour))
	expired := f.user(t, 3, t0.Add(-time.Hour))
	f.subscription(t, expired.ID, t0.Add(-24*time.Hour))
	longGone := f.user(t, 3, t0.Add(-time.Hour))
	f.subscription(t, longGone.ID, old)
	subscribed := f.user(t, 0, t0.Add(-time.Hour))
	f.subscription(t, subscribed.ID, t0.Add(5*24*time.Hour))

	for _, u := range []*models.User{expiring, expired, longGone, subscribed} {
		_, err := f.planner.PlanForUser(ctx, u.ID)
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []types.CrmTaskType{types.CrmTaskTypeDailyPrompt, types.CrmTaskTypeSubExpiring}, taskTypes(f.tasks(t, expiring.ID)))
	assert.ElementsMatch(t, []types.CrmTaskType{types.CrmTaskTypeDailyPrompt, types.CrmTaskTypeSubExpired}, taskTypes(f.tasks(t, expired.ID)))
	assert.ElementsMatch(t, []types.CrmTaskType{types.CrmTaskTypeDailyPrompt}, taskTypes(f.tasks(t, longGone.ID)))
	// a subscriber with no free questions left is not offered a subscription
	assert.ElementsMatch(t, []types.CrmTaskType{types.CrmTaskTypeDailyPrompt}, taskTypes(f.tasks(t, subscribed.ID)))
}

func TestPlanCooldownAfterDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 2, t0.Add(-96*time.Hour))

	n, err := f.planner.PlanForUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	// the open-task index no longer blocks, the cooldown does
	f.now = t0.Add(24 * time.Hour)
	n, err = f.planner.PlanForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = t0.Add(f.cfg.Crm.ReengageCooldown + time.Hour)
	n, err = f.planner.PlanForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.tasks(t, u.ID), 2)
}

func TestPlanSkipsBlockedAndUnknownUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 0, t0.Add(-96*time.Hour))
	require.NoError(t, f.db.Model(u).Update("is_blocked", true).Error)

	n, err := f.planner.PlanForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.planner.PlanForUser(ctx, 9999)
	assert.True(t, apperr.NotFound.Has(err))
}

func TestPlanAllPagesThroughUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, 2, f.cfg.Crm.PlannerPageSize)

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, f.user(t, 0, t0.Add(-96*time.Hour)).ID)
	}
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", ids[2]).Update("is_blocked", true).Error)

	res, err := f.planner.PlanAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Users)
	assert.Equal(t, 8, res.Created)
	assert.Empty(t, f.tasks(t, ids[2]))

	res, err = f.planner.PlanAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Users)
	assert.Zero(t, res.Created)
}

func TestEnqueueImmediate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 3, t0)

	created, err := f.planner.EnqueueImmediate(ctx, u.ID, types.CrmTaskTypeThanks, map[string]any{"triggered_by": "user_message"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.planner.EnqueueImmediate(ctx, u.ID, types.CrmTaskTypeThanks, nil)
	require.NoError(t, err)
	assert.False(t, created, "one open THANKS task per user")

	tasks := f.tasks(t, u.ID)
	require.Len(t, tasks, 1)
	assert.Nil(t, tasks[0].DueAt)
	assert.Equal(t, "user_message", tasks[0].Payload["triggered_by"])

	_, err = f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)

	created, err = f.planner.EnqueueImmediate(ctx, u.ID, types.CrmTaskTypeThanks, nil)
	require.NoError(t, err)
	assert.True(t, created, "a closed task does not block the next one")
}

func TestCustomRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 3, t0)
	due := t0.Add(time.Hour)

	f.planner.TestSetRules([]Rule{{
		Type: "BIRTHDAY",
		Match: func(st *UserState) (Plan, bool) {
			return Plan{DueAt: &due}, st.User.ID == u.ID
		},
	}})
	n, err := f.planner.PlanForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.planner.PlanForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNextLocalHour(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	tests := []struct {
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{now: t0, loc: time.UTC, want: time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)},
		{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC), loc: time.UTC, want: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), loc: time.UTC, want: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		// 06:30 UTC is 09:30 in Moscow
		{now: time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC), loc: msk, want: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)},
		// 22:00 UTC is already 11 March in Moscow
		{now: time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC), loc: msk, want: time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got := nextLocalHour(tt.now, tt.loc, 10)
		assert.True(t, got.Equal(tt.want), "now=%s got=%s want=%s", tt.now, got, tt.want)
		assert.Equal(t, time.UTC, got.Location())
	}
}
