package crm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stepun/botoracle/internal/app/service/events"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/internal/platform/db/dbtest"
	"github.com/stepun/botoracle/internal/platform/delivery"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/tool"
	"github.com/stepun/botoracle/pkg/types"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu    sync.Mutex
	sent  map[int64][]string
	fail  map[int64]error
	block bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[int64][]string{}, fail: map[int64]error{}}
}

func (s *fakeSender) Send(ctx context.Context, to delivery.Recipient, text string) error {
	if s.block {
		<-ctx.Done()
		return fmt.Errorf("send: %w", ctx.Err())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[to.UserID]; err != nil {
		return err
	}
	s.sent[to.UserID] = append(s.sent[to.UserID], text)
	return nil
}

func (s *fakeSender) count(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[userID])
}

type fixture struct {
	cfg        *config.Config
	db         *gorm.DB
	rec        *events.Recorder
	sender     *fakeSender
	planner    *Planner
	dispatcher *Dispatcher
	now        time.Time
	nextTg     int64
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		cfg:    config.NewTestConfig(),
		db:     dbtest.New(t),
		rec:    &events.Recorder{},
		sender: newFakeSender(),
		now:    t0,
	}
	clock := func() time.Time { return f.now }
	log := zap.NewNop().Sugar()
	f.planner = NewPlanner(f.cfg, f.db, log)
	f.planner.TestSetNow(clock)
	f.dispatcher = NewDispatcher(f.cfg, f.db, log, f.sender, NewRenderer(), f.rec)
	f.dispatcher.TestSetNow(clock)
	return f
}

func (f *fixture) user(t *testing.T, free int, lastSeen time.Time) *models.User {
	f.nextTg++
	u := &models.User{TgUserID: 1000 + f.nextTg, FreeQuestionsLeft: free, FirstSeenAt: lastSeen, LastSeenAt: &lastSeen}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) subscription(t *testing.T, userID int64, endsAt time.Time) {
	sub := &models.Subscription{
		ID:        tool.GenerateUUIDV7(),
		UserID:    userID,
		PlanCode:  "WEEK",
		Status:    types.SubscriptionStatusActive,
		StartedAt: endsAt.Add(-7 * 24 * time.Hour),
		EndsAt:    endsAt,
	}
	require.NoError(t, f.db.Create(sub).Error)
}

func (f *fixture) task(t *testing.T, userID int64, typ types.CrmTaskType, due *time.Time, created time.Time) *models.CrmTask {
	task := &models.CrmTask{
		ID:        tool.GenerateUUIDV7(),
		UserID:    userID,
		Type:      typ,
		Status:    types.CrmTaskStatusPending,
		DueAt:     due,
		CreatedAt: created,
	}
	require.NoError(t, f.db.Create(task).Error)
	return task
}

func (f *fixture) tasks(t *testing.T, userID int64) []models.CrmTask {
	var tasks []models.CrmTask
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&tasks).Error)
	return tasks
}

func (f *fixture) reload(t *testing.T, task *models.CrmTask) models.CrmTask {
	var got models.CrmTask
	require.NoError(t, f.db.First(&got, "id = ?", task.ID).Error)
	return got
}

func taskTypes(tasks []models.CrmTask) []types.CrmTaskType {
	out := make([]types.CrmTaskType, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Type)
	}
	return out
}

var errUnreachable = fmt.Errorf("telegram: bot was blocked by the user: %w", delivery.ErrRecipientUnreachable)

var errProvider = errors.New("telegram: internal server error")

func ptr[T any](v T) *T { return &v }
