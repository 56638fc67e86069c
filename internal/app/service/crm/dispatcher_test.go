package crm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/types"
)

func TestDispatchDueSelectsOldestDueFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.user(t, 3, t0)
	u2 := f.user(t, 3, t0)
	u3 := f.user(t, 3, t0)
	u4 := f.user(t, 3, t0)

	late := f.task(t, u1.ID, types.CrmTaskTypeReengage, ptr(t0.Add(-time.Minute)), t0.Add(-3*time.Hour))
	early := f.task(t, u2.ID, types.CrmTaskTypeReengage, ptr(t0.Add(-2*time.Hour)), t0.Add(-3*time.Hour))
	immediate := f.task(t, u3.ID, types.CrmTaskTypeThanks, nil, t0.Add(-time.Hour))
	future := f.task(t, u4.ID, types.CrmTaskTypeDailyPrompt, ptr(t0.Add(time.Hour)), t0.Add(-4*time.Hour))

	res, err := f.dispatcher.DispatchDue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Attempted: 2, Sent: 2}, *res)
	assert.Equal(t, types.CrmTaskStatusSent, f.reload(t, early).Status)
	assert.Equal(t, types.CrmTaskStatusSent, f.reload(t, immediate).Status)
	assert.Equal(t, types.CrmTaskStatusPending, f.reload(t, late).Status)

	res, err = f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Attempted: 1, Sent: 1}, *res)
	assert.Equal(t, types.CrmTaskStatusPending, f.reload(t, future).Status, "not due yet")
	assert.Zero(t, f.sender.count(u4.ID))

	f.now = t0.Add(time.Hour)
	res, err = f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestDispatchSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 3, t0)
	require.NoError(t, f.db.Model(u).Updates(map[string]any{"gender": types.GenderFemale, "age": 22}).Error)
	task := f.task(t, u.ID, types.CrmTaskTypeThanks, nil, t0)

	_, err := f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)

	got := f.reload(t, task)
	assert.Equal(t, types.CrmTaskStatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(t0))
	require.NotNil(t, got.ResultCode)
	assert.Equal(t, types.CrmResultDelivered, *got.ResultCode)
	require.Equal(t, 1, f.sender.count(u.ID))
	assert.Contains(t, f.sender.sent[u.ID][0], "Дорогая")
	assert.Equal(t, 1, f.rec.Count(types.EventCrmSent))
}

func TestDispatchSkipsBlockedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 3, t0)
	require.NoError(t, f.db.Model(u).Update("is_blocked", true).Error)
	task := f.task(t, u.ID, types.CrmTaskTypeReengage, nil, t0)

	res, err := f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Attempted: 1, Skipped: 1}, *res)

	got := f.reload(t, task)
	assert.Equal(t, types.CrmTaskStatusSkipped, got.Status)
	assert.Equal(t, types.CrmResultUserBlocked, *got.ResultCode)
	assert.Nil(t, got.SentAt)
	assert.Zero(t, f.sender.count(u.ID))
}

func TestDispatchUnreachableBlocksUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 3, t0)
	other := f.task(t, u.ID, types.CrmTaskTypeReengage, nil, t0.Add(time.Second))
	task := f.task(t, u.ID, types.CrmTaskTypeThanks, nil, t0)
	f.sender.fail[u.ID] = errUnreachable

	res, err := f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	// the second task sees the user already blocked
	assert.Equal(t, DispatchResult{Attempted: 2, Skipped: 2}, *res)

	got := f.reload(t, task)
	assert.Equal(t, types.CrmTaskStatusSkipped, got.Status)
	assert.Equal(t, types.CrmResultUnreachable, *got.ResultCode)
	assert.Equal(t, types.CrmResultUserBlocked, *f.reload(t, other).ResultCode)

	var reloaded models.User
	require.NoError(t, f.db.First(&reloaded, u.ID).Error)
	assert.True(t, reloaded.IsBlocked)
	require.NotNil(t, reloaded.BlockedAt)
	assert.Equal(t, 1, f.rec.Count(types.EventUserBlocked))
	assert.Equal(t, 2, f.rec.Count(types.EventCrmSkipped))
}

func TestDispatchFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	failing := f.user(t, 3, t0)
	f.sender.fail[failing.ID] = errProvider
	errTask := f.task(t, failing.ID, types.CrmTaskTypeThanks, nil, t0)
	unknown := f.task(t, f.user(t, 3, t0).ID, "BIRTHDAY", nil, t0.Add(time.Second))

	res, err := f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Attempted: 2, Failed: 2}, *res)

	got := f.reload(t, errTask)
	assert.Equal(t, types.CrmTaskStatusFailed, got.Status)
	assert.Equal(t, types.CrmResultSendError, *got.ResultCode)
	got = f.reload(t, unknown)
	assert.Equal(t, types.CrmTaskStatusFailed, got.Status)
	assert.Equal(t, types.CrmResultNoTemplate, *got.ResultCode)

	// failed is terminal: the next sweep does not retry
	f.sender.fail[failing.ID] = nil
	res, err = f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Zero(t, f.sender.count(failing.ID))

	var u models.User
	require.NoError(t, f.db.First(&u, failing.ID).Error)
	assert.False(t, u.IsBlocked, "a provider error is not a block")
}

func TestDispatchTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cfg.Crm.SendTimeout = 20 * time.Millisecond
	f.sender.block = true
	u := f.user(t, 3, t0)
	task := f.task(t, u.ID, types.CrmTaskTypeThanks, nil, t0)

	res, err := f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Attempted: 1, Failed: 1}, *res)

	got := f.reload(t, task)
	assert.Equal(t, types.CrmTaskStatusFailed, got.Status)
	assert.Equal(t, types.CrmResultTimeout, *got.ResultCode)
	assert.Nil(t, got.SentAt)
}

func TestConcurrentDispatchSendsOnce(t *testing.T) {
	f := newFixture(t)
	var users []int64
	for i := 0; i < 12; i++ {
		u := f.user(t, 3, t0)
		users = append(users, u.ID)
		f.task(t, u.ID, types.CrmTaskTypeThanks, nil, t0.Add(time.Duration(i)*time.Second))
		f.task(t, u.ID, types.CrmTaskTypeReengage, nil, t0.Add(time.Duration(i)*time.Second))
	}

	var mu sync.Mutex
	total := DispatchResult{}
	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			res, err := f.dispatcher.DispatchDue(context.Background(), 100)
			if err != nil {
				return err
			}
			mu.Lock()
			total.Attempted += res.Attempted
			total.Sent += res.Sent
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 24, total.Attempted)
	assert.Equal(t, 24, total.Sent)
	for _, id := range users {
		assert.Equal(t, 2, f.sender.count(id), "user %d", id)
	}
	assert.Equal(t, 24, f.rec.Count(types.EventCrmSent))
}

func TestDispatchReapsStaleClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 3, t0)
	stale := f.task(t, u.ID, types.CrmTaskTypeThanks, nil, t0.Add(-2*time.Hour))
	fresh := f.task(t, u.ID, types.CrmTaskTypeReengage, nil, t0.Add(-2*time.Hour))
	require.NoError(t, f.db.Model(stale).Updates(map[string]any{"status": types.CrmTaskStatusInProgress, "claimed_at": t0.Add(-time.Hour)}).Error)
	require.NoError(t, f.db.Model(fresh).Updates(map[string]any{"status": types.CrmTaskStatusInProgress, "claimed_at": t0.Add(-time.Minute)}).Error)

	res, err := f.dispatcher.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Reaped: 1}, *res)

	got := f.reload(t, stale)
	assert.Equal(t, types.CrmTaskStatusFailed, got.Status)
	assert.Equal(t, types.CrmResultAbandoned, *got.ResultCode)
	assert.Equal(t, types.CrmTaskStatusInProgress, f.reload(t, fresh).Status)
	assert.Zero(t, f.sender.count(u.ID), "abandoned tasks are never re-sent")
}
