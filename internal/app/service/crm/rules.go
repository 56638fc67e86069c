package crm

import (
	"time"

	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/types"
)

// UserState is the read-only snapshot the rules are evaluated against.
type UserState struct {
	User   *models.User
	Active *models.Subscription
	// LastEnded is the most recent subscription whose window has closed.
	LastEnded *models.Subscription
	// LastCreated holds the newest task creation time per type.
	LastCreated map[types.CrmTaskType]time.Time
	Now         time.Time
	Location    *time.Location
}

func (st *UserState) lastSeen() time.Time {
	if st.User.LastSeenAt != nil {
		return *st.User.LastSeenAt
	}
	return st.User.FirstSeenAt
}

// Plan is what a matching rule asks the planner to insert.
type Plan struct {
	// DueAt nil means the next dispatcher sweep.
	DueAt   *time.Time
	Payload map[string]any
}

// Rule schedules one task type. Match must be pure: the planner does the
// writes, and the cooldown and the open-task index keep re-runs idempotent.
type Rule struct {
	Type types.CrmTaskType
	// Cooldown suppresses a new task while the last one of this type was
	// created less than Cooldown ago, whatever its status.
	Cooldown time.Duration
	Match    func(st *UserState) (Plan, bool)
}

// DefaultRules is the scheduled rule set. THANKS is not here: the message
// path enqueues it directly.
func DefaultRules(cfg config.CrmConfig) []Rule {
	return []Rule{
		{
			Type:     types.CrmTaskTypeReengage,
			Cooldown: cfg.ReengageCooldown,
			Match: func(st *UserState) (Plan, bool) {
				idle := st.Now.Sub(st.lastSeen())
				if idle < cfg.InactiveAfter {
					return Plan{}, false
				}
				return Plan{Payload: map[string]any{"idle_hours": int(idle.Hours())}}, true
			},
		},
		{
			Type:     types.CrmTaskTypeDailyPrompt,
			Cooldown: 20 * time.Hour,
			Match: func(st *UserState) (Plan, bool) {
				if st.Now.Sub(st.lastSeen()) > cfg.ActiveWithin {
					return Plan{}, false
				}
				due := nextLocalHour(st.Now, st.Location, cfg.DailyPromptHour)
				return Plan{DueAt: &due, Payload: map[string]any{"local_date": due.In(st.Location).Format(time.DateOnly)}}, true
			},
		},
		{
			Type:     types.CrmTaskTypeSubExpiring,
			Cooldown: cfg.ExpiringWithin,
			Match: func(st *UserState) (Plan, bool) {
				if st.Active == nil || st.Active.EndsAt.Sub(st.Now) > cfg.ExpiringWithin {
					return Plan{}, false
				}
				return Plan{Payload: map[string]any{
					"subscription_id": st.Active.ID,
					"ends_at":         st.Active.EndsAt,
				}}, true
			},
		},
		{
			Type:     types.CrmTaskTypeSubExpired,
			Cooldown: cfg.ExpiredWithin,
			Match: func(st *UserState) (Plan, bool) {
				if st.Active != nil || st.LastEnded == nil || st.Now.Sub(st.LastEnded.EndsAt) > cfg.ExpiredWithin {
					return Plan{}, false
				}
				return Plan{Payload: map[string]any{
					"subscription_id": st.LastEnded.ID,
					"plan_code":       st.LastEnded.PlanCode,
				}}, true
			},
		},
		{
			Type:     types.CrmTaskTypeFreeExhausted,
			Cooldown: cfg.FreeOfferCooldown,
			Match: func(st *UserState) (Plan, bool) {
				if st.Active != nil || st.User.FreeQuestionsLeft > 0 {
					return Plan{}, false
				}
				return Plan{}, true
			},
		},
	}
}

// nextLocalHour is the next instant, at or after now, when the wall clock
// in loc reads hour:00. The result is in UTC.
func nextLocalHour(now time.Time, loc *time.Location, hour int) time.Time {
	local := now.In(loc)
	due := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if due.Before(local) {
		due = due.AddDate(0, 0, 1)
	}
	return due.UTC()
}
