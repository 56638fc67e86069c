// Package crm schedules and delivers proactive outreach. The planner
// produces crm_task rows and the dispatcher consumes them; the only
// coordination between the two is the table itself.
package crm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	subsvc "github.com/stepun/botoracle/internal/app/service/subscription"
	"github.com/stepun/botoracle/internal/app/service/user"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/metrics"
	"github.com/stepun/botoracle/pkg/tool"
	"github.com/stepun/botoracle/pkg/types"
)

type Planner struct {
	cfg   *config.Config
	db    *gorm.DB
	log   *zap.SugaredLogger
	rules []Rule
	nowFn func() time.Time
}

func NewPlanner(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger) *Planner {
	return &Planner{cfg: cfg, db: db, log: log, rules: DefaultRules(cfg.Crm), nowFn: time.Now}
}

// TestSetNow replaces the clock.
func (p *Planner) TestSetNow(now func() time.Time) {
	p.nowFn = now
}

// TestSetRules replaces the rule set.
func (p *Planner) TestSetRules(rules []Rule) {
	p.rules = rules
}

type PlanResult struct {
	Users   int `json:"users"`
	Created int `json:"created"`
}

// EnqueueImmediate inserts a task due on the next dispatcher sweep. It
// returns false when an open task of the same type already exists.
func (p *Planner) EnqueueImmediate(ctx context.Context, userID int64, typ types.CrmTaskType, payload map[string]any) (bool, error) {
	created, err := p.insert(ctx, userID, typ, Plan{Payload: payload})
	if err != nil {
		return false, err
	}
	if created {
		metrics.AddPlanned(string(typ), 1)
	}
	return created, nil
}

// PlanForUser evaluates every rule for one user and returns how many tasks
// were inserted. Blocked users get nothing.
func (p *Planner) PlanForUser(ctx context.Context, userID int64) (int, error) {
	u, err := user.Get(ctx, p.db, userID)
	if err != nil {
		return 0, err
	}
	return p.planUser(ctx, u)
}

// PlanAll sweeps every unblocked user in id order, a page at a time, with
// up to crm.planner_concurrency users evaluated in parallel.
func (p *Planner) PlanAll(ctx context.Context) (*PlanResult, error) {
	start := time.Now()
	defer metrics.ObserveProcess("crm", "plan", start)

	var users, created atomic.Int64
	var lastID int64
	for {
		var page []models.User
		err := p.db.WithContext(ctx).
			Where("id > ? AND is_blocked = ?", lastID, false).
			Order("id ASC").
			Limit(p.cfg.Crm.PlannerPageSize).
			Find(&page).Error
		if err != nil {
			return nil, fmt.Errorf("load planner page: %w", err)
		}
		if len(page) == 0 {
			break
		}
		lastID = page[len(page)-1].ID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Crm.PlannerConcurrency)
		for i := range page {
			u := &page[i]
			g.Go(func() error {
				n, err := p.planUser(gctx, u)
				if err != nil {
					return fmt.Errorf("plan user %d: %w", u.ID, err)
				}
				users.Add(1)
				created.Add(int64(n))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	res := &PlanResult{Users: int(users.Load()), Created: int(created.Load())}
	logctx.FromCtx(ctx, p.log).Infow("crm_plan_done", "users", res.Users, "created", res.Created, "took", time.Since(start))
	return res, nil
}

func (p *Planner) planUser(ctx context.Context, u *models.User) (int, error) {
	if u.IsBlocked {
		return 0, nil
	}
	st, err := p.loadState(ctx, u)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, r := range p.rules {
		if last, ok := st.LastCreated[r.Type]; ok && st.Now.Sub(last) < r.Cooldown {
			continue
		}
		plan, ok := r.Match(st)
		if !ok {
			continue
		}
		inserted, err := p.insert(ctx, u.ID, r.Type, plan)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
			metrics.AddPlanned(string(r.Type), 1)
		}
	}
	return created, nil
}

func (p *Planner) loadState(ctx context.Context, u *models.User) (*UserState, error) {
	now := p.nowFn().UTC()
	st := &UserState{User: u, Now: now, Location: p.cfg.Location(), LastCreated: map[types.CrmTaskType]time.Time{}}

	var err error
	if st.Active, err = subsvc.GetActive(ctx, p.db, u.ID, now); err != nil {
		return nil, err
	}

	var ended models.Subscription
	err = p.db.WithContext(ctx).
		Where("user_id = ? AND ends_at <= ?", u.ID, now).
		Order("ends_at DESC").
		Take(&ended).Error
	switch {
	case err == nil:
		st.LastEnded = &ended
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load ended subscription: %w", err)
	}

	var recent []models.CrmTask
	err = p.db.WithContext(ctx).
		Select("type", "created_at").
		Where("user_id = ? AND created_at > ?", u.ID, now.Add(-p.maxCooldown())).
		Find(&recent).Error
	if err != nil {
		return nil, fmt.Errorf("load recent tasks: %w", err)
	}
	for _, t := range recent {
		if t.CreatedAt.After(st.LastCreated[t.Type]) {
			st.LastCreated[t.Type] = t.CreatedAt
		}
	}
	return st, nil
}

func (p *Planner) maxCooldown() time.Duration {
	var d time.Duration
	for _, r := range p.rules {
		d = max(d, r.Cooldown)
	}
	return d
}

// insert relies on idx_crm_task_open: a conflicting open task turns the
// insert into a no-op.
func (p *Planner) insert(ctx context.Context, userID int64, typ types.CrmTaskType, plan Plan) (bool, error) {
	task := &models.CrmTask{
		ID:        tool.GenerateUUIDV7(),
		UserID:    userID,
		Type:      typ,
		Status:    types.CrmTaskStatusPending,
		DueAt:     plan.DueAt,
		Payload:   datatypes.JSONMap(plan.Payload),
		CreatedAt: p.nowFn().UTC(),
	}
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(task)
	if res.Error != nil {
		return false, fmt.Errorf("insert %s task: %w", typ, res.Error)
	}
	if res.RowsAffected == 0 {
		logctx.FromCtx(ctx, p.log).Debugw("crm_task_exists", "user_id", userID, "type", typ)
		return false, nil
	}
	logctx.FromCtx(ctx, p.log).Infow("crm_task_planned", "user_id", userID, "type", typ, "due_at", plan.DueAt)
	return true, nil
}
