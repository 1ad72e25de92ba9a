package scheduler

import (
	"context"

	"github.com/smallbiznis/proposalpricing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Start),
)

// Start runs the scheduler loop for the lifetime of the app unless
// SCHEDULER_ENABLED is false.
func Start(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.SchedulerEnabled {
		sched.log.Info("scheduler disabled")
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(runCtx)
			}()
			sched.log.Info("scheduler started", zap.Duration("interval", sched.cfg.RunInterval))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
