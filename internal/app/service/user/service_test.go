package user

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stepun/botoracle/internal/app/service/events"
	"github.com/stepun/botoracle/internal/platform/db/dbtest"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/types"
)

func newService(t *testing.T) (*Service, *events.Recorder) {
	rec := &events.Recorder{}
	s := NewService(config.NewTestConfig(), dbtest.New(t), zap.NewNop().Sugar(), rec)
	return s, rec
}

func TestGetOrCreate(t *testing.T) {
	s, rec := newService(t)
	ctx := context.Background()

	u, created, err := s.GetOrCreate(ctx, 1001, lo.ToPtr("seer"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, 5, u.FreeQuestionsLeft)
	assert.NotZero(t, u.ID)

	again, created, err := s.GetOrCreate(ctx, 1001, nil)
	require.NoError(t, err)
	require.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "seer", *again.Username)

	assert.Equal(t, 1, rec.Count(types.EventUserStarted))

	_, _, err = s.GetOrCreate(ctx, 0, nil)
	assert.True(t, apperr.Validation.Has(err))
}

func TestProfileAndBlocking(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	u, _, err := s.GetOrCreate(ctx, 5, nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateProfile(ctx, u.ID, ProfileUpdate{Age: lo.ToPtr(31), Gender: lo.ToPtr(types.GenderFemale)}))
	got, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 31, *got.Age)
	assert.Equal(t, types.GenderFemale, *got.Gender)

	assert.True(t, apperr.Validation.Has(s.UpdateProfile(ctx, u.ID, ProfileUpdate{Age: lo.ToPtr(500)})))
	assert.True(t, apperr.Validation.Has(s.UpdateProfile(ctx, u.ID, ProfileUpdate{Gender: lo.ToPtr(types.Gender("robot"))})))
	assert.True(t, apperr.NotFound.Has(s.UpdateProfile(ctx, 999, ProfileUpdate{Age: lo.ToPtr(20)})))

	blockedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, MarkBlocked(ctx, s.db, u.ID, blockedAt))
	require.NoError(t, MarkBlocked(ctx, s.db, u.ID, blockedAt.Add(time.Hour)))
	got, err = s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBlocked)
	assert.True(t, got.BlockedAt.Equal(blockedAt))

	require.NoError(t, s.Touch(ctx, u.ID))
	got, err = s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBlocked)
	assert.Nil(t, got.BlockedAt)

	assert.True(t, apperr.NotFound.Has(s.Touch(ctx, 999)))
	_, err = s.Get(ctx, 999)
	assert.True(t, apperr.NotFound.Has(err))
}
