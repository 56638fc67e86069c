package crm

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"storj.io/common/sync2"

	"github.com/stepun/botoracle/pkg/config"
)

// Scheduler runs the planner and dispatcher sweeps on independent cycles.
// Sweep errors are logged and the cycle keeps going.
type Scheduler struct {
	cfg        *config.Config
	log        *zap.SugaredLogger
	planner    *Planner
	dispatcher *Dispatcher

	PlanLoop     *sync2.Cycle
	DispatchLoop *sync2.Cycle

	cancel context.CancelFunc
	group  errgroup.Group
}

func NewScheduler(cfg *config.Config, log *zap.SugaredLogger, planner *Planner, dispatcher *Dispatcher) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		log:          log,
		planner:      planner,
		dispatcher:   dispatcher,
		PlanLoop:     sync2.NewCycle(cfg.Crm.PlannerInterval),
		DispatchLoop: sync2.NewCycle(cfg.Crm.DispatcherInterval),
	}
}

// Start launches both cycles. They stop when ctx is canceled or Close is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.PlanLoop.Start(ctx, &s.group, s.plan)
	s.DispatchLoop.Start(ctx, &s.group, s.dispatch)
	s.log.Infow("crm_scheduler_started", "plan_interval", s.cfg.Crm.PlannerInterval, "dispatch_interval", s.cfg.Crm.DispatcherInterval)
}

func (s *Scheduler) plan(ctx context.Context) error {
	if _, err := s.planner.PlanAll(ctx); err != nil {
		s.log.Errorw("crm_plan_failed", "err", err)
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context) error {
	if _, err := s.dispatcher.DispatchDue(ctx, s.cfg.Crm.BatchSize); err != nil {
		s.log.Errorw("crm_dispatch_failed", "err", err)
	}
	return nil
}

// Close stops both cycles and waits for an in-flight sweep to return.
func (s *Scheduler) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.PlanLoop.Close()
	s.DispatchLoop.Close()
	if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func registerScheduler(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Crm.Enabled {
		s.log.Infow("crm_scheduler_disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// the start context ends with OnStart; the loops need their own
			s.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
}

var Module = fx.Options(
	fx.Provide(
		NewPlanner,
		NewRenderer,
		NewDispatcher,
		NewScheduler,
	),
	fx.Invoke(registerScheduler),
)
